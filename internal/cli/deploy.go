package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/state"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

var (
	deployProperties map[string]string
	deployParallel   int
)

var deployCmd = &cobra.Command{
	Use:   "deploy [spec files...]",
	Short: "Deploy functions",
	Long: `Deploys every function in the given spec files, or in fnstack.pkl /
fnstack.yaml / fnstack.json of the working directory.

Functions are independent and deploy concurrently. A failure of one function
does not stop the others; the state records what each one provisioned.`,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringToStringVarP(&deployProperties, "prop", "D", nil, "Set external properties for PKL specs (format: key=value)")
	deployCmd.Flags().IntVarP(&deployParallel, "parallel", "p", 4, "Maximum number of functions deployed at once")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := settings(cmd)
	if err != nil {
		return err
	}
	specs, err := loadSpecs(ctx, args, deployProperties)
	if err != nil {
		return err
	}
	backend, err := openBackend(ctx)
	if err != nil {
		return err
	}

	out := &printer{w: cmd.OutOrStdout()}
	reg := newRegistry(cfg.Profile)

	var deployErr error
	var records []*ir.Record
	err = state.Update(ctx, backend, func(f *state.File) error {
		records, deployErr = deployAll(ctx, reg, cfg, specs, f, out)
		return nil
	})
	if err != nil {
		return errors.Join(deployErr, fmt.Errorf("failed to write state: %w", err))
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	for _, rec := range records {
		renderRecord(w, rec)
	}
	if deployErr != nil {
		return deployErr
	}
	fmt.Fprintf(w, "\n%sDeploy complete! %d function(s).%s\n", colorize(colorGreen), len(records), colorize(colorReset))
	return nil
}

// deployAll deploys every spec and stores the records in f. Deploys do not
// share a context: one failing function never cancels another.
func deployAll(ctx context.Context, reg *provider.Registry, cfg config.Config, specs []ir.Spec, f *state.File, out *printer) ([]*ir.Record, error) {
	priors := make([]*ir.Record, len(specs))
	for i, spec := range specs {
		priors[i] = f.Get(spec.Name)
	}

	records := make([]*ir.Record, len(specs))
	errs := make([]error, len(specs))
	var mu sync.Mutex

	var g errgroup.Group
	if deployParallel > 0 {
		g.SetLimit(deployParallel)
	}
	for i, spec := range specs {
		g.Go(func() error {
			rec, err := deployOne(ctx, reg, cfg, spec, priors[i], out)
			if rec != nil {
				mu.Lock()
				f.Put(rec)
				mu.Unlock()
			}
			records[i], errs[i] = rec, err
			return nil
		})
	}
	_ = g.Wait()

	kept := records[:0]
	for _, rec := range records {
		if rec != nil {
			kept = append(kept, rec)
		}
	}
	return kept, errors.Join(errs...)
}

func deployOne(ctx context.Context, reg *provider.Registry, cfg config.Config, spec ir.Spec, prior *ir.Record, out *printer) (*ir.Record, error) {
	region := regionOf(spec.Region, cfg)
	if prior != nil && prior.Region != "" && prior.Region != region {
		return prior, fmt.Errorf("function %q is deployed in %s; remove it before moving it to %s", spec.Name, prior.Region, region)
	}
	eng, err := engineFor(ctx, reg, cfg, region)
	if err != nil {
		return prior, fmt.Errorf("function %q: %w", spec.Name, err)
	}

	rec, err := eng.DeployWithCallback(ctx, spec, prior, out.event)
	if err != nil {
		logging.Warn("deploy failed, keeping partial record", "function", spec.Name, "error", err)
		return settle(prior, rec), err
	}
	return rec, nil
}

// settle merges the partial record of a failed deploy with the prior one
// so nothing that may still exist drops out of the state.
func settle(prior, rec *ir.Record) *ir.Record {
	if prior == nil {
		if rec == nil || (rec.Function.IsZero() && rec.Role == nil && rec.LogGroup == nil) {
			return nil
		}
		return rec
	}
	if rec == nil {
		return prior
	}
	merged := *rec
	if merged.Function.IsZero() {
		merged.Function = prior.Function
		merged.FunctionArn = prior.FunctionArn
		merged.CodeSource = prior.CodeSource
	}
	if merged.Role == nil {
		merged.Role = prior.Role
	}
	if merged.LogGroup == nil {
		merged.LogGroup = prior.LogGroup
	}
	if len(merged.Tags) == 0 {
		merged.Tags = prior.Tags
	}
	merged.Triggers = append([]ir.TriggerRecord(nil), rec.Triggers...)
	for _, t := range prior.Triggers {
		if rec.Trigger(t.Kind, t.Name) == nil {
			merged.Triggers = append(merged.Triggers, t)
		}
	}
	return &merged
}
