package cli

import (
	"github.com/spf13/cobra"

	"github.com/picklr-io/fnstack/internal/logging"
)

// Global flags shared by every command.
var (
	logLevel      string
	region        string
	profile       string
	statePath     string
	backendType   string
	backendConfig map[string]string
	noColor       bool
)

var rootCmd = &cobra.Command{
	Use:   "fnstack",
	Short: "Deploy cloud functions and everything hanging off them",
	Long: `fnstack deploys a function together with its execution role, log group,
tags and event triggers (schedules, bucket events, log subscriptions,
load balancer routes, queues, topic subscriptions and gateway routes)
from a declarative spec.

Re-running the same spec is a no-op. Removing a function only deletes what
fnstack created; resources that already existed are unbound and left alone.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&region, "region", "", "Default region for specs that name none (overrides FNSTACK_REGION)")
	flags.StringVar(&profile, "profile", "", "Shared config profile (overrides FNSTACK_PROFILE)")
	flags.StringVar(&statePath, "state", "", "Path of the local state file")
	flags.StringVar(&backendType, "backend", "local", "State backend (local or s3)")
	flags.StringToStringVar(&backendConfig, "backend-config", nil, "Backend settings (format: key=value)")
	flags.BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
