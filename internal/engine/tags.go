package engine

import (
	"context"
	"slices"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/reconcile"
)

// tagDiff is the change that brings live tags to desired. Only keys a
// previous deploy applied are ever detached.
type tagDiff struct {
	set    map[string]string
	remove []string
}

func diffTags(desired, live map[string]string, managed []ir.Tag) tagDiff {
	d := tagDiff{set: make(map[string]string)}
	for k, v := range desired {
		if cur, ok := live[k]; !ok || cur != v {
			d.set[k] = v
		}
	}
	for _, t := range managed {
		if _, keep := desired[t.Key]; keep {
			continue
		}
		if _, ok := live[t.Key]; ok && !slices.Contains(d.remove, t.Key) {
			d.remove = append(d.remove, t.Key)
		}
	}
	slices.Sort(d.remove)
	return d
}

func (d tagDiff) empty() bool { return len(d.set) == 0 && len(d.remove) == 0 }

// applyTags attaches new and changed tags and detaches removed ones.
// Failures are recorded and never stop the deploy. rec.Tags ends up with
// only the keys this tool put on the function, so a remove never detaches
// a tag someone else set.
func (r *run) applyTags(ctx context.Context, spec ir.Spec, prior *ir.Record, fn reconcile.FunctionState, rec *ir.Record) {
	var managed []ir.Tag
	if prior != nil {
		managed = prior.Tags
	}
	d := diffTags(ir.TagMap(spec.Tags), fn.Tags, managed)
	attached := true
	detached := true

	h := ir.Handle{ID: fn.Arn(), Kind: ir.KindFunction, Name: spec.Name}
	if len(d.set) > 0 {
		start := time.Now()
		_, err := r.clients.Lambda.TagResource(ctx, &lambda.TagResourceInput{Resource: aws.String(fn.Arn()), Tags: d.set})
		r.step(h, "tag", start, err)
		if err != nil {
			attached = false
			logging.Warn("tags not attached", "function", spec.Name, "error", err)
			rec.Failures = append(rec.Failures, failure(PhaseTagsApplied, ir.KindFunction, spec.Name, err))
		} else {
			logging.Info("tags attached", "function", spec.Name, "count", len(d.set))
		}
	}
	if len(d.remove) > 0 {
		start := time.Now()
		_, err := r.clients.Lambda.UntagResource(ctx, &lambda.UntagResourceInput{Resource: aws.String(fn.Arn()), TagKeys: d.remove})
		r.step(h, "untag", start, err)
		if err != nil {
			detached = false
			logging.Warn("tags not detached", "function", spec.Name, "error", err)
			rec.Failures = append(rec.Failures, failure(PhaseTagsApplied, ir.KindFunction, spec.Name, err))
		} else {
			logging.Info("tags detached", "function", spec.Name, "keys", d.remove)
		}
	}

	rec.Tags = append(rec.Tags, ownedTags(spec.Tags, managed, d, attached, detached)...)
}

// ownedTags lists the tags that are ours after a tag pass: those just
// attached, and those a previous deploy attached that are still there.
func ownedTags(desired, managed []ir.Tag, d tagDiff, attached, detached bool) []ir.Tag {
	prev := ir.TagMap(managed)
	var out []ir.Tag
	for _, t := range desired {
		_, changed := d.set[t.Key]
		old, ours := prev[t.Key]
		switch {
		case changed && attached:
			out = append(out, t)
		case ours && !changed:
			out = append(out, t)
		case ours:
			out = append(out, ir.Tag{Key: t.Key, Value: old})
		}
	}
	if !detached {
		for _, t := range managed {
			if slices.Contains(d.remove, t.Key) {
				out = append(out, t)
			}
		}
	}
	return out
}
