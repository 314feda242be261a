package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/picklr-io/fnstack/internal/state"
)

var initCmd = &cobra.Command{
	Use:   "init [function]",
	Short: "Initialize a new fnstack project",
	Long:  `Creates a starter fnstack.yaml and the state directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInit,
}

const specTemplate = `# fnstack spec. See 'fnstack validate' to check it.
name: %s
runtime: python3.12
handler: app.handler
memorySize: 128
timeout: 30
code:
  path: build/%s.zip
logRetentionDays: 14
tags:
  - key: app
    value: %s
triggers:
  - kind: timer
    name: hourly
    enabled: false
    timer:
      schedule: rate(1 hour)
`

func runInit(cmd *cobra.Command, args []string) error {
	name := "hello"
	if len(args) > 0 {
		name = args[0]
	}
	w := cmd.OutOrStdout()

	dir := filepath.Dir(state.DefaultPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	specPath := "fnstack.yaml"
	if _, err := os.Stat(specPath); os.IsNotExist(err) {
		content := fmt.Sprintf(specTemplate, name, name, name)
		if err := os.WriteFile(specPath, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to create %s: %w", specPath, err)
		}
		fmt.Fprintf(w, "Created %s\n", specPath)
	}

	fmt.Fprintln(w, "\nfnstack initialized successfully!")
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Edit fnstack.yaml to describe your function")
	fmt.Fprintln(w, "  2. Run 'fnstack validate' to check it")
	fmt.Fprintln(w, "  3. Run 'fnstack deploy' to deploy it")
	return nil
}
