package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateProperties map[string]string

var validateCmd = &cobra.Command{
	Use:   "validate [spec files...]",
	Short: "Validate spec files",
	Long:  `Loads the spec files and checks every function and trigger without calling the provider.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringToStringVarP(&validateProperties, "prop", "D", nil, "Set external properties for PKL specs (format: key=value)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	fmt.Fprint(w, "Validating specs... ")
	specs, err := loadSpecs(cmd.Context(), args, validateProperties)
	if err != nil {
		fmt.Fprintln(w, "FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintln(w, "OK")

	for _, s := range specs {
		fmt.Fprintf(w, "  %s: %s, %d trigger(s)\n", s.Name, s.Runtime, len(s.Triggers))
	}
	fmt.Fprintf(w, "\n%d function(s) valid.\n", len(specs))
	return nil
}
