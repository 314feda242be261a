package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	outputJSON bool
)

var outputCmd = &cobra.Command{
	Use:   "output [function]",
	Short: "Show the invoke URLs of deployed routes",
	Long: `Prints the invoke URL of every gateway route recorded in the state.

If a function name is given, only its routes are printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOutput,
}

func init() {
	outputCmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
}

func runOutput(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	backend, err := openBackend(ctx)
	if err != nil {
		return err
	}
	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	names := s.Names()
	if len(args) > 0 {
		if _, err := recordOf(s, args[0]); err != nil {
			return err
		}
		names = args
	}

	// function -> trigger name -> url
	urls := make(map[string]map[string]string)
	for _, name := range names {
		for _, t := range s.Get(name).Triggers {
			if t.Gateway == nil || t.Gateway.URL == "" {
				continue
			}
			if urls[name] == nil {
				urls[name] = make(map[string]string)
			}
			urls[name][t.Name] = t.Gateway.URL
		}
	}

	w := cmd.OutOrStdout()
	if outputJSON {
		data, err := json.MarshalIndent(urls, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal outputs: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}
	if len(urls) == 0 {
		fmt.Fprintln(w, "No routes deployed.")
		return nil
	}
	for _, name := range names {
		for _, t := range s.Get(name).Triggers {
			if url, ok := urls[name][t.Name]; ok {
				fmt.Fprintf(w, "%s.%s = %s\n", name, t.Name, url)
			}
		}
	}
	return nil
}
