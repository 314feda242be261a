package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/state"
)

var (
	removeAll         bool
	removeAutoApprove bool
)

var removeCmd = &cobra.Command{
	Use:   "remove [function...]",
	Short: "Remove deployed functions",
	Long: `Tears down the named functions, or every recorded function with --all.

Only resources fnstack created are deleted. Functions, gateway services and
routes that existed before are unbound and left in place. A function whose
teardown had failures stays in the state so a later remove can retry.`,
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVar(&removeAll, "all", false, "Remove every function in the state")
	removeCmd.Flags().BoolVar(&removeAutoApprove, "auto-approve", false, "Skip interactive approval")
}

func runRemove(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !removeAll {
		return errors.New("name the functions to remove or pass --all")
	}
	ctx := cmd.Context()
	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	backend, err := openBackend(ctx)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	reg := newRegistry(cfg.Profile)
	out := &printer{w: w}

	var removeErrs []error
	err = state.Update(ctx, backend, func(f *state.File) error {
		names := args
		if removeAll {
			names = f.Names()
		}
		for _, name := range names {
			if _, err := recordOf(f, name); err != nil {
				return err
			}
		}
		if len(names) == 0 {
			fmt.Fprintln(w, "No functions in state.")
			return nil
		}
		if !removeAutoApprove && !confirm(cmd, fmt.Sprintf("Remove %s?", strings.Join(names, ", "))) {
			fmt.Fprintln(w, "Remove cancelled.")
			return nil
		}

		for _, name := range names {
			rec := f.Get(name)
			eng, err := engineFor(ctx, reg, cfg, regionOf(rec.Region, cfg))
			if err != nil {
				removeErrs = append(removeErrs, fmt.Errorf("function %q: %w", name, err))
				continue
			}
			report := eng.RemoveWithCallback(ctx, rec, out.event)
			if err := renderReport(w, report); err != nil {
				removeErrs = append(removeErrs, err)
				continue
			}
			f.Delete(name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return errors.Join(removeErrs...)
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s (y/n): ", question)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// recordOf returns the record of name or errNotInState.
func recordOf(f *state.File, name string) (*ir.Record, error) {
	rec := f.Get(name)
	if rec == nil {
		return nil, fmt.Errorf("function %q: %w", name, errNotInState)
	}
	return rec, nil
}
