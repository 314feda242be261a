// Package reconcile converges one provider resource towards a desired
// description: look it up, diff its mutable fields, then update, skip or
// create. Every resource type plugs into the same Run through Kind.
package reconcile

import (
	"context"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
)

// Kind is the provider view of one resource type. D is the desired input,
// S the live state the provider reports.
type Kind[D, S any] interface {
	Name() ir.Kind

	// Get fetches by provider id. found=false is not an error.
	Get(ctx context.Context, id string) (state S, found bool, err error)

	// Key is the natural key of the desired resource. Kinds that cannot
	// be listed are fetched with Get(Key(desired)).
	Key(desired D) string
	ID(state S) string

	// Mutable and MutableOf flatten the fields an update can change.
	Mutable(desired D) map[string]string
	MutableOf(state S) map[string]string

	Create(ctx context.Context, desired D) (S, error)
	Update(ctx context.Context, current S, desired D, changes Changes) (S, error)
}

// Lister is implemented by kinds found by matching a natural key against
// the provider's listing.
type Lister[S any] interface {
	List(ctx context.Context) ([]S, error)
	KeyOf(state S) string
}

// Awaiter is implemented by kinds whose creation settles asynchronously.
type Awaiter[S any] interface {
	Await(ctx context.Context, state S) (S, error)
}

// Ref locates an existing resource. ID wins over the natural key; Prior is
// the handle recorded by the previous deploy, consulted for ownership.
type Ref struct {
	ID    string
	Prior *ir.Handle
}

// RefTo builds a Ref from a prior handle, which may be nil.
func RefTo(prior *ir.Handle) Ref {
	if prior == nil {
		return Ref{}
	}
	return Ref{ID: prior.ID, Prior: prior}
}

// Outcome of a reconcile step.
const (
	OutcomeCreated = "create"
	OutcomeUpdated = "update"
	OutcomeNoop    = "noop"
)

// Result describes what Run did. Handle is set whenever the resource
// exists, including when the wait after a create failed.
type Result[S any] struct {
	Handle  ir.Handle
	State   S
	Outcome string
	Changes Changes
}

// Created reports whether Run issued the create call.
func (r Result[S]) Created() bool { return r.Outcome == OutcomeCreated }

// Run reconciles one resource of kind k.
func Run[D, S any](ctx context.Context, k Kind[D, S], desired D, ref Ref) (Result[S], error) {
	key := k.Key(desired)
	log := logging.With("kind", k.Name(), "name", key)

	current, found, err := lookup(ctx, k, desired, ref)
	if err != nil {
		return Result[S]{}, err
	}

	if found {
		res := Result[S]{State: current, Outcome: OutcomeNoop}
		res.Handle = ir.Handle{ID: k.ID(current), Kind: k.Name(), Name: key}.Inherit(ref.Prior)
		res.Changes = Diff(k.MutableOf(current), k.Mutable(desired))
		if len(res.Changes) == 0 {
			log.Debug("up to date", "id", res.Handle.ID)
			return res, nil
		}
		log.Info("update", "id", res.Handle.ID, "changes", res.Changes.String())
		updated, err := k.Update(ctx, current, desired, res.Changes)
		if err != nil {
			return res, newError(k.Name(), key, ActionUpdate, err)
		}
		res.State = updated
		res.Outcome = OutcomeUpdated
		return res, nil
	}

	log.Info("create")
	created, err := k.Create(ctx, desired)
	if err != nil {
		// State may still describe pieces the failed create left behind.
		return Result[S]{State: created}, newError(k.Name(), key, ActionCreate, err)
	}
	res := Result[S]{
		State:   created,
		Outcome: OutcomeCreated,
		Handle:  ir.Handle{ID: k.ID(created), Kind: k.Name(), Name: key, CreatedByUs: true},
	}
	if aw, ok := k.(Awaiter[S]); ok {
		settled, err := aw.Await(ctx, created)
		if err != nil {
			return res, newError(k.Name(), key, ActionAwait, err)
		}
		res.State = settled
	}
	log.Debug("created", "id", res.Handle.ID)
	return res, nil
}

func lookup[D, S any](ctx context.Context, k Kind[D, S], desired D, ref Ref) (S, bool, error) {
	var zero S
	key := k.Key(desired)

	if ref.ID != "" {
		s, found, err := k.Get(ctx, ref.ID)
		if err != nil {
			return zero, false, newError(k.Name(), key, ActionGet, err)
		}
		return s, found, nil
	}

	l, ok := k.(Lister[S])
	if !ok {
		s, found, err := k.Get(ctx, key)
		if err != nil {
			return zero, false, newError(k.Name(), key, ActionGet, err)
		}
		return s, found, nil
	}

	items, err := l.List(ctx)
	if err != nil {
		return zero, false, newError(k.Name(), key, ActionList, err)
	}
	match, ok := MatchFold(items, key, l.KeyOf)
	if !ok {
		return zero, false, nil
	}
	// Listings can be summaries; re-read the match in full.
	s, found, err := k.Get(ctx, k.ID(match))
	if err != nil {
		return zero, false, newError(k.Name(), key, ActionGet, err)
	}
	return s, found, nil
}
