package ir

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleInherit(t *testing.T) {
	prior := &Handle{ID: "abc", Kind: KindGatewayService, CreatedByUs: true}

	found := Handle{ID: "abc", Kind: KindGatewayService}
	assert.True(t, found.Inherit(prior).CreatedByUs)

	other := Handle{ID: "xyz", Kind: KindGatewayService}
	assert.False(t, other.Inherit(prior).CreatedByUs)

	assert.False(t, found.Inherit(nil).CreatedByUs)
	assert.False(t, found.Inherit(&Handle{ID: "abc"}).CreatedByUs)
}

func TestRecordTrigger(t *testing.T) {
	r := &Record{Triggers: []TriggerRecord{
		{Kind: TriggerTimer, Name: "nightly"},
		{Kind: TriggerGateway, Name: "api"},
	}}
	require.NotNil(t, r.Trigger(TriggerGateway, "api"))
	assert.Nil(t, r.Trigger(TriggerTimer, "api"))

	var nilRecord *Record
	assert.Nil(t, nilRecord.Trigger(TriggerTimer, "nightly"))
}

func TestRecordJSONKeepsOwnership(t *testing.T) {
	r := Record{
		Version:  RecordVersion,
		Name:     "f1",
		Function: Handle{ID: "f1", Kind: KindFunction, CreatedByUs: true},
		Tags:     []Tag{{Key: "env", Value: "prod"}},
		Triggers: []TriggerRecord{},
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"createdByUs":true`)

	var back Record
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)
}

func TestRemoveReport(t *testing.T) {
	var rep RemoveReport
	rep.Add(Handle{ID: "t1", Kind: KindTrigger}, ActionDelete, nil)
	rep.Add(Handle{ID: "t2", Kind: KindTrigger}, ActionDelete, errors.New("boom"))
	rep.Skip(Handle{ID: "f1", Kind: KindFunction}, "not created by fnstack")

	assert.Len(t, rep.Failed(), 1)
	assert.Equal(t, []Handle{{ID: "t1", Kind: KindTrigger}}, rep.Deleted())
	require.Error(t, rep.Err())
	assert.Contains(t, rep.Err().Error(), "boom")

	var clean RemoveReport
	assert.NoError(t, clean.Err())
}

func TestTriggerSpecHelpers(t *testing.T) {
	off := false
	assert.True(t, TriggerSpec{}.IsEnabled())
	assert.False(t, TriggerSpec{Enabled: &off}.IsEnabled())

	g := GatewaySpec{Method: "get", Path: "/Users"}
	assert.Equal(t, "GET /Users", g.RouteKey())

	assert.Equal(t, "id:a1", GatewayServiceSpec{ID: "a1", Name: "x"}.Key())
	assert.Equal(t, "name:x", GatewayServiceSpec{Name: "x"}.Key())

	assert.Equal(t, map[string]string{"a": "2"}, TagMap([]Tag{{"a", "1"}, {"a", "2"}}))
}
