package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/poll"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

type widget struct {
	ID    string
	Key   string
	Color string
}

type widgetInput struct {
	Key   string
	Color string
}

// widgets is a listable in-memory kind that counts mutations.
type widgets struct {
	items     []widget
	creates   int
	updates   int
	gets      int
	createErr error
	awaitErr  error
}

func (w *widgets) Name() ir.Kind { return "widget" }
func (w *widgets) Key(d widgetInput) string { return d.Key }
func (w *widgets) KeyOf(s widget) string { return s.Key }
func (w *widgets) ID(s widget) string { return s.ID }
func (w *widgets) List(context.Context) ([]widget, error) { return w.items, nil }

func (w *widgets) Get(_ context.Context, id string) (widget, bool, error) {
	w.gets++
	for _, it := range w.items {
		if it.ID == id {
			return it, true, nil
		}
	}
	return widget{}, false, nil
}

func (w *widgets) Mutable(d widgetInput) map[string]string {
	if d.Color == "" {
		return map[string]string{}
	}
	return map[string]string{"color": d.Color}
}

func (w *widgets) MutableOf(s widget) map[string]string {
	return map[string]string{"color": s.Color}
}

func (w *widgets) Create(_ context.Context, d widgetInput) (widget, error) {
	if w.createErr != nil {
		return widget{}, w.createErr
	}
	w.creates++
	it := widget{ID: fmt.Sprintf("w%d", len(w.items)+1), Key: d.Key, Color: d.Color}
	w.items = append(w.items, it)
	return it, nil
}

func (w *widgets) Update(_ context.Context, cur widget, d widgetInput, _ Changes) (widget, error) {
	w.updates++
	for i := range w.items {
		if w.items[i].ID == cur.ID {
			w.items[i].Color = d.Color
			return w.items[i], nil
		}
	}
	return cur, errors.New("vanished")
}

type awaitingWidgets struct{ *widgets }

func (a awaitingWidgets) Await(_ context.Context, s widget) (widget, error) {
	return s, a.awaitErr
}

func TestRunCreatesWhenAbsent(t *testing.T) {
	k := &widgets{}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a", Color: "red"}, Ref{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.True(t, res.Created())
	assert.Equal(t, ir.Handle{ID: "w1", Kind: "widget", Name: "a", CreatedByUs: true}, res.Handle)
	assert.Equal(t, 1, k.creates)
}

func TestRunNoopWhenDiffEmpty(t *testing.T) {
	k := &widgets{items: []widget{{ID: "w1", Key: "a", Color: "red"}}}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a", Color: "red"}, Ref{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoop, res.Outcome)
	assert.False(t, res.Handle.CreatedByUs)
	assert.Empty(t, res.Changes)
	assert.Zero(t, k.creates)
	assert.Zero(t, k.updates)
}

func TestRunUpdatesOnlyChangedFields(t *testing.T) {
	k := &widgets{items: []widget{{ID: "w1", Key: "a", Color: "red"}}}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a", Color: "blue"}, Ref{})
	require.NoError(t, err)

	assert.Equal(t, OutcomeUpdated, res.Outcome)
	assert.Equal(t, Changes{{Field: "color", From: "red", To: "blue"}}, res.Changes)
	assert.False(t, res.Handle.CreatedByUs, "an updated pre-existing resource is not ours")
	assert.Equal(t, 1, k.updates)
}

func TestRunUnsetFieldsAreNotReverted(t *testing.T) {
	k := &widgets{items: []widget{{ID: "w1", Key: "a", Color: "red"}}}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a"}, Ref{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, res.Outcome)
}

func TestRunKeepsOwnershipFromPriorHandle(t *testing.T) {
	k := &widgets{items: []widget{{ID: "w1", Key: "a", Color: "red"}}}
	prior := &ir.Handle{ID: "w1", Kind: "widget", CreatedByUs: true}

	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a", Color: "blue"}, RefTo(prior))
	require.NoError(t, err)
	assert.True(t, res.Handle.CreatedByUs)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
}

func TestRunMatchesNaturalKeyIgnoringCase(t *testing.T) {
	k := &widgets{items: []widget{
		{ID: "w1", Key: "GET /Items", Color: "red"},
		{ID: "w2", Key: "get /items", Color: "red"},
	}}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "Get /ITEMS", Color: "red"}, Ref{})
	require.NoError(t, err)

	assert.Equal(t, "w1", res.Handle.ID, "first match in list order wins")
	assert.Zero(t, k.creates)
}

func TestRunFetchesByIDBeforeKey(t *testing.T) {
	k := &widgets{items: []widget{
		{ID: "w1", Key: "a", Color: "red"},
		{ID: "w2", Key: "b", Color: "red"},
	}}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a", Color: "red"}, Ref{ID: "w2"})
	require.NoError(t, err)
	assert.Equal(t, "w2", res.Handle.ID)
}

func TestRunMissingIDFallsThroughToCreate(t *testing.T) {
	k := &widgets{}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a"}, Ref{ID: "gone"})
	require.NoError(t, err)
	assert.True(t, res.Created())
}

func TestRunCreateErrorCarriesProviderFields(t *testing.T) {
	k := &widgets{createErr: provider.NewError("LimitExceededException", "too many widgets")}
	_, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a"}, Ref{})
	require.Error(t, err)

	var re *Error
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ActionCreate, re.Action)
	assert.Equal(t, ir.Kind("widget"), re.Kind)
	assert.Equal(t, "LimitExceededException", re.ProviderCode)
	assert.Equal(t, "too many widgets", re.ProviderMessage)
}

func TestRunAwaitFailureStillReturnsHandle(t *testing.T) {
	k := awaitingWidgets{&widgets{awaitErr: &poll.FailedError{Subject: "widget", Last: "Failed"}}}
	res, err := Run[widgetInput, widget](context.Background(), k, widgetInput{Key: "a"}, Ref{})
	require.Error(t, err)

	assert.Equal(t, "w1", res.Handle.ID)
	assert.True(t, res.Handle.CreatedByUs)
	assert.True(t, IsActivationFailure(err))
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name    string
		current map[string]string
		desired map[string]string
		want    []string
	}{
		{"equal", map[string]string{"a": "1"}, map[string]string{"a": "1"}, nil},
		{"changed", map[string]string{"a": "1"}, map[string]string{"a": "2"}, []string{"a"}},
		{"provider-only field ignored", map[string]string{"a": "1", "b": "x"}, map[string]string{"a": "1"}, nil},
		{"missing on provider", map[string]string{}, map[string]string{"a": "1"}, []string{"a"}},
		{"sorted", map[string]string{}, map[string]string{"z": "1", "a": "1"}, []string{"a", "z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.current, tt.desired)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got.Fields())
		})
	}
}
