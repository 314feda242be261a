package engine

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/trigger"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Remove tears down what rec says we created. It never fails: every step
// is attempted and its outcome lands in the report.
func (e *Engine) Remove(ctx context.Context, rec *ir.Record) *ir.RemoveReport {
	return e.RemoveWithCallback(ctx, rec, nil)
}

// RemoveWithCallback is Remove with progress reported to callback.
//
// Order is the reverse of deploy: triggers (last bound first), then tags
// of a function we do not own, then the function, its log group and its
// execution role. Resources not created by us are only unbound.
func (e *Engine) RemoveWithCallback(ctx context.Context, rec *ir.Record, callback EventCallback) *ir.RemoveReport {
	report := &ir.RemoveReport{}
	if rec == nil {
		return report
	}
	report.Name = rec.Name
	r := e.newRun(rec.Name, callback)
	r.report = report
	for _, t := range rec.Triggers {
		r.refs.add(t.Gateway)
	}

	target, err := provider.NewTarget(rec.Name, rec.FunctionArn)
	if err != nil {
		logging.Debug("no function arn recorded, using name only", "function", rec.Name)
		target = provider.Target{Name: rec.Name, Region: rec.Region, Partition: provider.PartitionOf(rec.Region)}
	}

	for i := len(rec.Triggers) - 1; i >= 0; i-- {
		r.removeTrigger(ctx, target, rec.Triggers[i])
	}

	if !rec.Function.IsZero() && !rec.Function.CreatedByUs {
		r.detachTags(ctx, rec)
	}
	r.removeFunction(ctx, rec.Function)

	if rec.LogGroup != nil && rec.LogGroup.CreatedByUs {
		start := time.Now()
		r.outcome(*rec.LogGroup, ir.ActionDelete, start, r.logGroups.Delete(ctx, rec.LogGroup.ID))
	}
	if rec.Role != nil && rec.Role.CreatedByUs {
		start := time.Now()
		r.outcome(*rec.Role, ir.ActionDelete, start, r.roles.Delete(ctx, rec.Role.ID, provider.PartitionOf(rec.Region)))
	}

	if failed := report.Failed(); len(failed) > 0 {
		logging.Warn("remove finished with failures", "function", rec.Name, "failed", len(failed))
	} else {
		logging.Info("remove finished", "function", rec.Name, "steps", len(report.Outcomes))
	}
	return report
}

func (r *run) removeTrigger(ctx context.Context, fn provider.Target, t ir.TriggerRecord) {
	h := t.Binding
	if h.Kind == "" {
		h.Kind = ir.KindTrigger
	}
	if h.Name == "" {
		h.Name = t.Name
	}

	// A gateway composite reports each of its parts itself.
	if trigger.Kind(t.Kind) == trigger.Gateway {
		if t.Gateway == nil {
			r.skip(h, "route not deployed")
			return
		}
		if _, err := r.triggers.Unbind(ctx, fn, t); err != nil {
			logging.Warn("gateway trigger not fully removed", "function", r.function, "trigger", t.Name, "error", err)
		}
		return
	}

	if !t.Binding.CreatedByUs {
		r.skip(h, "not created by us")
		return
	}
	start := time.Now()
	removed, err := r.triggers.Unbind(ctx, fn, t)
	switch {
	case err != nil:
		r.outcome(h, ir.ActionDelete, start, err)
	case removed:
		r.outcome(h, ir.ActionDelete, start, nil)
	default:
		r.skip(h, "already gone")
	}
}

// detachTags removes the tags a previous deploy put on a function we do
// not own.
func (r *run) detachTags(ctx context.Context, rec *ir.Record) {
	if len(rec.Tags) == 0 || rec.FunctionArn == "" {
		return
	}
	keys := make([]string, 0, len(rec.Tags))
	for _, t := range rec.Tags {
		keys = append(keys, t.Key)
	}
	h := ir.Handle{ID: rec.FunctionArn, Kind: ir.KindFunction, Name: rec.Name}
	start := time.Now()
	_, err := r.clients.Lambda.UntagResource(ctx, &lambda.UntagResourceInput{Resource: aws.String(rec.FunctionArn), TagKeys: keys})
	if provider.IsNotFound(err) {
		err = nil
	}
	r.outcome(h, ir.ActionUnbind, start, err)
}

// removeFunction deletes a function we created unless it is mid-operation.
func (r *run) removeFunction(ctx context.Context, h ir.Handle) {
	if h.IsZero() {
		return
	}
	if !h.CreatedByUs {
		r.skip(h, "not created by us")
		return
	}
	start := time.Now()
	state, found, err := r.functions.Get(ctx, h.ID)
	switch {
	case err != nil:
		r.outcome(h, ir.ActionDelete, start, err)
	case !found:
		r.skip(h, "already gone")
	case state.Busy():
		logging.Warn("function is mid-operation, not deleting", "function", h.ID, "status", state.String())
		r.skip(h, "function busy: "+state.String())
	default:
		r.outcome(h, ir.ActionDelete, start, r.functions.Delete(ctx, h.ID))
	}
}
