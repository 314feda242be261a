package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/engine"
	"github.com/picklr-io/fnstack/internal/eval"
	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/state"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorDim    = "\033[2m"
)

// defaultSpecFiles are tried in order when no spec file is given.
var defaultSpecFiles = []string{"fnstack.pkl", "fnstack.yaml", "fnstack.yml", "fnstack.json"}

// newRegistry builds the per-region client cache. Tests swap it for fakes.
var newRegistry = provider.NewRegistry

func colorize(code string) string {
	if noColor {
		return ""
	}
	return code
}

// settings resolves the engine configuration: defaults, then FNSTACK_*
// variables, then flags.
func settings(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Default().FromEnv()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("region") {
		cfg.Region = region
	}
	if flags.Changed("profile") {
		cfg.Profile = profile
	}
	return cfg, cfg.Validate()
}

func openBackend(ctx context.Context) (state.Backend, error) {
	c := &state.BackendConfig{Type: backendType, Config: make(map[string]string)}
	maps.Copy(c.Config, backendConfig)
	if statePath != "" {
		c.Config["path"] = statePath
	}
	return state.NewBackend(ctx, c)
}

// specFiles returns the files named on the command line, or the first
// default spec file found in the working directory.
func specFiles(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	for _, name := range defaultSpecFiles {
		if _, err := os.Stat(name); err == nil {
			return []string{name}, nil
		}
	}
	return nil, fmt.Errorf("no spec file given and none of %s found", strings.Join(defaultSpecFiles, ", "))
}

// loadSpecs evaluates every file and validates the combined set, so a
// function name may appear only once across files.
func loadSpecs(ctx context.Context, args []string, properties map[string]string) ([]ir.Spec, error) {
	files, err := specFiles(args)
	if err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}

	evaluator := eval.NewEvaluator(wd)
	var specs []ir.Spec
	for _, f := range files {
		loaded, err := evaluator.Load(ctx, f, properties)
		if err != nil {
			return nil, err
		}
		specs = append(specs, loaded...)
	}
	if err := evaluator.Validate(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func regionOf(specRegion string, cfg config.Config) string {
	if specRegion != "" {
		return specRegion
	}
	return cfg.Region
}

func engineFor(ctx context.Context, reg *provider.Registry, cfg config.Config, region string) (*engine.Engine, error) {
	clients, err := reg.For(ctx, region)
	if err != nil {
		return nil, err
	}
	cfg.Region = region
	return engine.New(cfg, clients), nil
}

// printer serialises progress lines of concurrent deploys.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// event renders resource steps; phase transitions are left to the log.
func (p *printer) event(ev engine.Event) {
	if ev.Kind == "" {
		if ev.Phase == engine.PhaseFailed && ev.Error != nil {
			p.printf("%s%s: failed: %v%s\n", colorize(colorRed), ev.Function, ev.Error, colorize(colorReset))
		}
		return
	}
	symbol, color := actionStyle(ev.Action)
	if ev.Error != nil {
		symbol, color = "!", colorRed
	}
	label := ev.ID
	if ev.Name != "" {
		label = ev.Name
	}
	line := fmt.Sprintf("%s%s: %s %s %s%s", colorize(color), ev.Function, symbol, ev.Kind, label, colorize(colorReset))
	if ev.Error != nil {
		line += fmt.Sprintf(" (%v)", ev.Error)
	}
	p.printf("%s\n", line)
}

func actionStyle(action string) (string, string) {
	switch action {
	case "create":
		return "+", colorGreen
	case "update":
		return "~", colorYellow
	case ir.ActionDelete:
		return "-", colorRed
	case ir.ActionUnbind:
		return "x", colorYellow
	case ir.ActionSkip, "noop":
		return "=", colorDim
	default:
		return "?", colorReset
	}
}

// renderRecord prints one deploy record.
func renderRecord(w io.Writer, rec *ir.Record) {
	fmt.Fprintf(w, "# %s (%s)\n", rec.Name, rec.Region)
	fmt.Fprintf(w, "  function  = %s%s\n", rec.Function.ID, owned(rec.Function))
	if rec.FunctionArn != "" {
		fmt.Fprintf(w, "  arn       = %s\n", rec.FunctionArn)
	}
	if rec.Role != nil {
		fmt.Fprintf(w, "  role      = %s%s\n", rec.Role.ID, owned(*rec.Role))
	}
	if rec.LogGroup != nil {
		fmt.Fprintf(w, "  log group = %s%s\n", rec.LogGroup.ID, owned(*rec.LogGroup))
	}
	for _, t := range rec.Tags {
		fmt.Fprintf(w, "  tag %s = %s\n", t.Key, t.Value)
	}
	for _, t := range rec.Triggers {
		status := "enabled"
		if !t.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(w, "  trigger %s/%s (%s) = %s%s\n", t.Kind, t.Name, status, t.Binding.ID, owned(t.Binding))
		if t.Gateway != nil && t.Gateway.URL != "" {
			fmt.Fprintf(w, "    url = %s\n", t.Gateway.URL)
		}
	}
	for _, f := range rec.Failures {
		fmt.Fprintf(w, "  %sfailed %s %s %s: %s%s\n", colorize(colorRed), f.Phase, f.Kind, f.Name, f.Message, colorize(colorReset))
	}
	if rec.DeployedAt != "" {
		fmt.Fprintf(w, "  deployed  = %s\n", rec.DeployedAt)
	}
}

func owned(h ir.Handle) string {
	if h.IsZero() || h.CreatedByUs {
		return ""
	}
	return " (external)"
}

// renderReport prints what a remove did and returns its joined error.
func renderReport(w io.Writer, report *ir.RemoveReport) error {
	var deleted, unbound, skipped int
	for _, o := range report.Outcomes {
		switch {
		case o.Err != nil:
		case o.Action == ir.ActionDelete:
			deleted++
		case o.Action == ir.ActionUnbind:
			unbound++
		case o.Action == ir.ActionSkip:
			skipped++
		}
	}
	fmt.Fprintf(w, "%s: %d deleted, %d unbound, %d left in place", report.Name, deleted, unbound, skipped)
	failed := report.Failed()
	if len(failed) > 0 {
		fmt.Fprintf(w, ", %s%d failed%s", colorize(colorRed), len(failed), colorize(colorReset))
	}
	fmt.Fprintln(w)
	return report.Err()
}

// errNotInState reports a function name with no record.
var errNotInState = errors.New("not found in state")
