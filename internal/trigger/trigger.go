// Package trigger binds event sources to a function. Every trigger kind
// implements the same small contract and shares one bind algorithm: look
// the binding up by its natural key, compare, then skip or replace.
package trigger

import (
	"context"
	"errors"
	"fmt"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/reconcile"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Kind is the closed set of trigger kinds.
type Kind string

const (
	Timer        Kind = ir.TriggerTimer
	Storage      Kind = ir.TriggerStorage
	Logs         Kind = ir.TriggerLogs
	LoadBalancer Kind = ir.TriggerLoadBalancer
	Queue        Kind = ir.TriggerQueue
	Gateway      Kind = ir.TriggerGateway
	Topic        Kind = ir.TriggerTopic
)

// Binding is a live trigger as the provider describes it. ID is whatever
// the kind needs to delete it; Attrs are the comparable fields.
type Binding struct {
	ID      string
	Enabled bool
	Attrs   map[string]string
}

// Adapter is one leaf trigger kind. None of these bindings can be updated
// in place, so a changed binding is deleted and created again.
type Adapter interface {
	Kind() Kind

	// Key is the natural key of the binding the spec describes.
	Key(spec ir.TriggerSpec) string

	// Get resolves the live binding. found=false is not an error.
	Get(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (b Binding, found bool, err error)

	Create(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, error)

	// Delete removes b and reports whether anything was there to remove.
	Delete(ctx context.Context, fn provider.Target, b Binding) (bool, error)

	// Equal compares the mutable fields of spec against b, ignoring the
	// enabled flag.
	Equal(fn provider.Target, spec ir.TriggerSpec, b Binding) bool

	// CanDisable reports whether the provider keeps a disabled binding.
	CanDisable() bool
}

// releaser is implemented by kinds whose Create can leave a grant behind
// without a binding Get can find.
type releaser interface {
	Release(ctx context.Context, fn provider.Target, spec ir.TriggerSpec, id string) error
}

// Binder binds and unbinds one kind. Leaf adapters are wrapped by the
// shared algorithm; the gateway kind implements Binder directly.
type Binder interface {
	Bind(ctx context.Context, fn provider.Target, spec ir.TriggerSpec, prior *ir.TriggerRecord) (*ir.TriggerRecord, error)

	// Unbind removes the binding behind rec and reports whether anything
	// was removed.
	Unbind(ctx context.Context, fn provider.Target, rec ir.TriggerRecord) (bool, error)
}

// ErrMissingBlock is returned when a trigger spec lacks the block its kind
// requires.
var ErrMissingBlock = errors.New("trigger block missing")

func missing(spec ir.TriggerSpec) error {
	return fmt.Errorf("%s trigger %q: %w", spec.Kind, spec.Name, ErrMissingBlock)
}

// equalAttrs compares only the fields the spec sets.
func equalAttrs(want map[string]string, b Binding) bool {
	return len(reconcile.Diff(b.Attrs, want)) == 0
}

// leaf runs the shared bind algorithm over an Adapter.
type leaf struct {
	Adapter
}

func (l leaf) handle(spec ir.TriggerSpec, id string, owned bool) ir.Handle {
	return ir.Handle{ID: id, Kind: ir.KindTrigger, Name: l.Key(spec), CreatedByUs: owned}
}

func (l leaf) Bind(ctx context.Context, fn provider.Target, spec ir.TriggerSpec, prior *ir.TriggerRecord) (*ir.TriggerRecord, error) {
	key := l.Key(spec)
	log := logging.With("trigger", spec.Kind, "name", spec.Name, "key", key)
	enabled := spec.IsEnabled()
	rec := &ir.TriggerRecord{Kind: spec.Kind, Name: spec.Name, Key: key, Enabled: enabled, Spec: spec}

	cur, found, err := l.Get(ctx, fn, spec)
	if err != nil {
		return rec, fmt.Errorf("look up %s trigger %q: %w", spec.Kind, spec.Name, err)
	}

	if !enabled && !l.CanDisable() {
		rec.Binding = l.handle(spec, "", false)
		if !found {
			return rec, nil
		}
		if !ownedBy(prior, cur) {
			// Someone else's binding under the same key stays as it is.
			log.Info("disabled but not ours, leaving in place", "id", cur.ID)
			rec.Binding = l.handle(spec, cur.ID, false)
			return rec, nil
		}
		log.Info("remove disabled binding", "id", cur.ID)
		if _, err := l.Delete(ctx, fn, cur); err != nil {
			rec.Binding = l.handle(spec, cur.ID, true)
			return rec, fmt.Errorf("remove disabled %s trigger %q: %w", spec.Kind, spec.Name, err)
		}
		return rec, nil
	}

	if found && cur.Enabled == enabled && l.Equal(fn, spec, cur) {
		log.Debug("up to date", "id", cur.ID)
		rec.Binding = l.handle(spec, cur.ID, false).Inherit(priorBinding(prior))
		return rec, nil
	}

	if found {
		log.Info("replace", "id", cur.ID)
		if _, err := l.Delete(ctx, fn, cur); err != nil {
			rec.Binding = l.handle(spec, cur.ID, false).Inherit(priorBinding(prior))
			return rec, fmt.Errorf("delete %s trigger %q: %w", spec.Kind, spec.Name, err)
		}
	} else {
		log.Info("create")
	}

	b, err := l.Create(ctx, fn, spec)
	if b.ID != "" {
		rec.Binding = l.handle(spec, b.ID, true)
	}
	if err != nil {
		return rec, fmt.Errorf("create %s trigger %q: %w", spec.Kind, spec.Name, err)
	}
	return rec, nil
}

// ownedBy reports whether cur is the binding prior recorded as created by
// us.
func ownedBy(prior *ir.TriggerRecord, cur Binding) bool {
	return prior != nil && prior.Binding.CreatedByUs && prior.Binding.ID != "" && prior.Binding.ID == cur.ID
}

func priorBinding(prior *ir.TriggerRecord) *ir.Handle {
	if prior == nil {
		return nil
	}
	return &prior.Binding
}

func (l leaf) Unbind(ctx context.Context, fn provider.Target, rec ir.TriggerRecord) (bool, error) {
	log := logging.With("trigger", rec.Kind, "name", rec.Name)
	if !rec.Binding.CreatedByUs {
		log.Debug("not ours, leaving in place")
		return false, nil
	}
	cur, found, err := l.Get(ctx, fn, rec.Spec)
	if err != nil {
		return false, fmt.Errorf("look up %s trigger %q: %w", rec.Kind, rec.Name, err)
	}
	if !found {
		if r, ok := l.Adapter.(releaser); ok && rec.Binding.ID != "" {
			log.Info("release partial binding", "id", rec.Binding.ID)
			return false, r.Release(ctx, fn, rec.Spec, rec.Binding.ID)
		}
		log.Debug("already gone")
		return false, nil
	}
	log.Info("delete", "id", cur.ID)
	return l.Delete(ctx, fn, cur)
}
