package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/reconcile"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Deploy converges spec. prior is the record of the previous deploy of
// the same function, or nil.
func (e *Engine) Deploy(ctx context.Context, spec ir.Spec, prior *ir.Record) (*ir.Record, error) {
	return e.DeployWithCallback(ctx, spec, prior, nil)
}

// DeployWithCallback converges spec and reports progress to callback.
//
// The returned record is never nil. On a fatal error it holds whatever
// was provisioned before the failure so the caller can persist it and
// retry. Recoverable failures (tags, single triggers, log retention) do
// not fail the deploy; they are listed in Record.Failures.
func (e *Engine) DeployWithCallback(ctx context.Context, spec ir.Spec, prior *ir.Record, callback EventCallback) (*ir.Record, error) {
	r := e.newRun(spec.Name, callback)
	rec := &ir.Record{
		Version:  ir.RecordVersion,
		Name:     spec.Name,
		Region:   e.clients.Region,
		Tags:     []ir.Tag{},
		Triggers: []ir.TriggerRecord{},
	}
	r.advance(PhaseInit)

	fn, err := r.deployFunction(ctx, spec, prior, rec)
	if err != nil {
		r.fail(err)
		return rec, err
	}
	r.advance(PhaseFunctionReconciled)

	r.applyTags(ctx, spec, prior, fn, rec)
	r.advance(PhaseTagsApplied)

	if err := r.applyTriggers(ctx, spec, prior, fn, rec); err != nil {
		r.fail(err)
		return rec, err
	}
	r.advance(PhaseTriggersApplied)

	rec.DeployedAt = time.Now().UTC().Format(time.RFC3339)
	r.advance(PhaseDone)
	return rec, nil
}

// deployFunction reconciles the execution role, the function and its log
// group. Only the role and the function are fatal.
func (r *run) deployFunction(ctx context.Context, spec ir.Spec, prior *ir.Record, rec *ir.Record) (reconcile.FunctionState, error) {
	roleArn := spec.Role
	if roleArn == "" {
		arn, err := r.ensureRole(ctx, spec, prior, rec)
		if err != nil {
			return reconcile.FunctionState{}, err
		}
		roleArn = arn
	} else if prior != nil && prior.Role != nil && prior.Role.CreatedByUs {
		// Still ours to delete once the function goes.
		rec.Role = prior.Role
	}

	code, err := reconcile.LoadCode(spec.Code)
	if err != nil {
		return reconcile.FunctionState{}, fmt.Errorf("function %q: %w", spec.Name, err)
	}
	in := reconcile.FunctionInput{Spec: spec, RoleArn: roleArn, Code: code}
	var priorFn *ir.Handle
	if prior != nil && !prior.Function.IsZero() {
		priorFn = &prior.Function
		in.PriorSource = prior.CodeSource
	}

	start := time.Now()
	res, err := reconcile.Run[reconcile.FunctionInput, reconcile.FunctionState](ctx, r.functions, in, reconcile.RefTo(priorFn))
	if err != nil && res.Created() && reconcile.IsActivationFailure(err) {
		// A function that failed to activate cannot be updated in place.
		logging.Warn("function failed to activate, recreating once", "function", spec.Name, "error", err)
		r.step(res.Handle, res.Outcome, start, err)
		if derr := r.functions.Delete(ctx, res.Handle.ID); derr != nil {
			rec.Function = res.Handle
			return res.State, fmt.Errorf("delete function %q after failed activation: %w", spec.Name, derr)
		}
		start = time.Now()
		res, err = reconcile.Run[reconcile.FunctionInput, reconcile.FunctionState](ctx, r.functions, in, reconcile.Ref{})
	}
	r.step(res.Handle, res.Outcome, start, err)
	if !res.Handle.IsZero() {
		rec.Function = res.Handle
		rec.FunctionArn = res.State.Arn()
		rec.CodeSource = code.Source()
	}
	if err != nil {
		return res.State, fmt.Errorf("reconcile function %q: %w", spec.Name, err)
	}

	r.ensureLogGroup(ctx, spec, prior, rec)
	return res.State, nil
}

func (r *run) ensureRole(ctx context.Context, spec ir.Spec, prior *ir.Record, rec *ir.Record) (string, error) {
	in := reconcile.RoleInput{
		Name:        provider.Name(64, r.cfg.NamePrefix, spec.Name),
		Description: "Execution role of function " + spec.Name,
		Partition:   provider.PartitionOf(r.clients.Region),
	}
	var priorRole *ir.Handle
	if prior != nil {
		priorRole = prior.Role
	}
	start := time.Now()
	res, err := reconcile.Run[reconcile.RoleInput, iamtypes.Role](ctx, r.roles, in, reconcile.RefTo(priorRole))
	r.step(res.Handle, res.Outcome, start, err)
	if !res.Handle.IsZero() {
		h := res.Handle
		rec.Role = &h
	}
	if err != nil {
		return "", fmt.Errorf("execution role for %q: %w", spec.Name, err)
	}
	return aws.ToString(res.State.Arn), nil
}

// ensureLogGroup applies the retention policy. Without one the function
// service creates the group lazily and nothing is recorded.
func (r *run) ensureLogGroup(ctx context.Context, spec ir.Spec, prior *ir.Record, rec *ir.Record) {
	var priorGroup *ir.Handle
	if prior != nil {
		priorGroup = prior.LogGroup
	}
	if spec.LogRetentionDays <= 0 {
		rec.LogGroup = priorGroup
		return
	}
	in := reconcile.LogGroupInput{Name: reconcile.LogGroupName(spec.Name), RetentionDays: spec.LogRetentionDays}
	start := time.Now()
	res, err := reconcile.Run[reconcile.LogGroupInput, logtypes.LogGroup](ctx, r.logGroups, in, reconcile.RefTo(priorGroup))
	r.step(res.Handle, res.Outcome, start, err)
	if !res.Handle.IsZero() {
		h := res.Handle
		rec.LogGroup = &h
	} else {
		rec.LogGroup = priorGroup
	}
	if err != nil {
		logging.Warn("log group not reconciled", "function", spec.Name, "error", err)
		rec.Failures = append(rec.Failures, failure(PhaseFunctionReconciled, ir.KindLogGroup, in.Name, err))
	}
}

// applyTriggers binds the declared triggers in order, then unbinds the
// ones the previous deploy bound and the spec no longer declares.
// Individual failures are recorded; only cancellation stops the loop.
func (r *run) applyTriggers(ctx context.Context, spec ir.Spec, prior *ir.Record, fn reconcile.FunctionState, rec *ir.Record) error {
	target, err := provider.NewTarget(spec.Name, fn.Arn())
	if err != nil {
		return err
	}
	if prior != nil {
		for _, t := range prior.Triggers {
			r.refs.add(t.Gateway)
		}
	}

	declared := make(map[string]bool, len(spec.Triggers))
	for _, ts := range spec.Triggers {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("deploy cancelled: %w", err)
		}
		declared[triggerID(ts.Kind, ts.Name)] = true
		priorTrigger := prior.Trigger(ts.Kind, ts.Name)

		start := time.Now()
		tr, err := r.triggers.Bind(ctx, target, ts, priorTrigger)
		switch {
		case tr != nil && (err == nil || !tr.Binding.IsZero() || tr.Gateway != nil):
			rec.Triggers = append(rec.Triggers, *tr)
			r.step(tr.Binding, bindAction(tr, priorTrigger), start, err)
		case priorTrigger != nil:
			rec.Triggers = append(rec.Triggers, *priorTrigger)
		}
		if err != nil {
			logging.Warn("trigger not bound", "function", spec.Name, "trigger", ts.Name, "kind", ts.Kind, "error", err)
			rec.Failures = append(rec.Failures, failure(PhaseTriggersApplied, ir.KindTrigger, ts.Name, err))
		}
	}

	if prior == nil {
		return nil
	}
	for i := len(prior.Triggers) - 1; i >= 0; i-- {
		pt := prior.Triggers[i]
		if declared[triggerID(pt.Kind, pt.Name)] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("deploy cancelled: %w", err)
		}
		start := time.Now()
		removed, err := r.triggers.Unbind(ctx, target, pt)
		if err != nil {
			logging.Warn("stale trigger not unbound", "function", spec.Name, "trigger", pt.Name, "error", err)
			rec.Failures = append(rec.Failures, failure(PhaseTriggersApplied, ir.KindTrigger, pt.Name, err))
			// Kept so the next deploy or remove tries again.
			rec.Triggers = append(rec.Triggers, pt)
			r.step(pt.Binding, ir.ActionUnbind, start, err)
			continue
		}
		if removed {
			r.step(pt.Binding, ir.ActionUnbind, start, nil)
		}
	}
	return nil
}

func triggerID(kind, name string) string { return kind + "/" + name }

func bindAction(tr *ir.TriggerRecord, prior *ir.TriggerRecord) string {
	switch {
	case tr.Binding.IsZero():
		return ir.ActionSkip
	case prior != nil && prior.Binding.ID == tr.Binding.ID:
		return reconcile.OutcomeNoop
	}
	return reconcile.OutcomeCreated
}

func failure(phase Phase, kind ir.Kind, name string, err error) ir.Failure {
	f := ir.Failure{Phase: string(phase), Kind: kind, Name: name, Message: err.Error()}
	if pe := provider.AsProviderError(err); pe != nil {
		f.Code = pe.Code
	}
	return f
}
