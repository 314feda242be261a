package reconcile

import (
	"fmt"
	"sort"
	"strings"
)

// Change is one mutable field whose live value differs from the desired one.
type Change struct {
	Field string
	From  string
	To    string
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %q -> %q", c.Field, c.From, c.To)
}

// Changes is a field-level diff, sorted by field name.
type Changes []Change

// Has reports whether field is among the changes.
func (c Changes) Has(field string) bool {
	for _, ch := range c {
		if ch.Field == field {
			return true
		}
	}
	return false
}

// HasAny reports whether any of fields changed.
func (c Changes) HasAny(fields ...string) bool {
	for _, f := range fields {
		if c.Has(f) {
			return true
		}
	}
	return false
}

// Fields returns the changed field names.
func (c Changes) Fields() []string {
	out := make([]string, len(c))
	for i, ch := range c {
		out[i] = ch.Field
	}
	return out
}

func (c Changes) String() string {
	parts := make([]string, len(c))
	for i, ch := range c {
		parts[i] = ch.String()
	}
	return strings.Join(parts, ", ")
}

// Diff compares the mutable fields of the live resource against the desired
// ones. Only fields present in desired take part: a field the caller leaves
// unset is never reverted, and fields only the provider knows about are
// ignored.
func Diff(current, desired map[string]string) Changes {
	var out Changes
	for field, want := range desired {
		if have := current[field]; have != want {
			out = append(out, Change{Field: field, From: have, To: want})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// MatchFold returns the first item whose natural key equals key, ignoring
// case. Duplicates are not expected; list order decides when they occur.
func MatchFold[S any](items []S, key string, keyOf func(S) string) (S, bool) {
	for _, item := range items {
		if strings.EqualFold(keyOf(item), key) {
			return item, true
		}
	}
	var zero S
	return zero, false
}
