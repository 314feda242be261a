package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/picklr-io/fnstack/internal/ir"
)

var (
	showJSON bool
)

var showCmd = &cobra.Command{
	Use:   "show [function...]",
	Short: "Show deployed functions",
	Long:  `Displays the recorded deploy of every function, or of the named ones.`,
	RunE:  runShow,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Output in JSON format")
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	backend, err := openBackend(ctx)
	if err != nil {
		return err
	}
	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	names := args
	if len(names) == 0 {
		names = s.Names()
	}
	records := make([]*ir.Record, 0, len(names))
	for _, name := range names {
		rec, err := recordOf(s, name)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}

	w := cmd.OutOrStdout()
	if showJSON {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "State: version=%d serial=%d lineage=%s\n", s.Version, s.Serial, s.Lineage)
	fmt.Fprintf(w, "Functions: %d\n\n", len(records))
	for _, rec := range records {
		renderRecord(w, rec)
		fmt.Fprintln(w)
	}
	return nil
}
