package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/fnstack/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage fnstack state",
	Long:  `Commands for inspecting and modifying the recorded deploys.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List functions in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <function>",
	Short: "Show the record of a single function",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <function>",
	Short: "Forget a function (does not remove anything)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func readState(cmd *cobra.Command) (*state.File, error) {
	backend, err := openBackend(cmd.Context())
	if err != nil {
		return nil, err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return s, nil
}

func runStateList(cmd *cobra.Command, args []string) error {
	s, err := readState(cmd)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if len(s.Records) == 0 {
		fmt.Fprintln(w, "No functions in state.")
		return nil
	}

	fmt.Fprintf(w, "State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, name := range s.Names() {
		rec := s.Get(name)
		fmt.Fprintf(w, "  %s (region: %s, triggers: %d)%s\n", name, rec.Region, len(rec.Triggers), owned(rec.Function))
	}
	fmt.Fprintf(w, "\nTotal: %d function(s)\n", len(s.Records))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	s, err := readState(cmd)
	if err != nil {
		return err
	}
	rec, err := recordOf(s, args[0])
	if err != nil {
		return err
	}
	renderRecord(cmd.OutOrStdout(), rec)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	backend, err := openBackend(cmd.Context())
	if err != nil {
		return err
	}
	name := args[0]
	err = state.Update(cmd.Context(), backend, func(f *state.File) error {
		if !f.Delete(name) {
			return fmt.Errorf("function %q: %w", name, errNotInState)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from state (nothing was deleted)\n", name)
	return nil
}
