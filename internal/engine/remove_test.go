package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

func targetOf(t *testing.T, rec *ir.Record) provider.Target {
	t.Helper()
	fn, err := provider.NewTarget(rec.Name, rec.FunctionArn)
	require.NoError(t, err)
	return fn
}

func skipped(report *ir.RemoveReport, kind ir.Kind) []ir.Outcome {
	var out []ir.Outcome
	for _, o := range report.Outcomes {
		if o.Action == ir.ActionSkip && o.Handle.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}

func TestRemoveDeletesWhatWeCreated(t *testing.T) {
	f := newFixture(t)
	rec := f.deploy(t, fullSpec(f), nil)
	rule := rec.Triggers[0].Binding.ID

	report := f.engine.Remove(context.Background(), rec)

	require.NoError(t, report.Err())
	assert.Equal(t, "f1", report.Name)
	_, found := f.cloud.Lambda.Function("f1")
	assert.False(t, found)
	exists, _ := f.cloud.IAM.Role(rec.Role.ID)
	assert.False(t, exists)
	_, found = f.cloud.Logs.Group(rec.LogGroup.ID)
	assert.False(t, found)
	_, _, found = f.cloud.Events.Rule(rule)
	assert.False(t, found)
	assert.Empty(t, f.cloud.Gateway.APIs())
	assert.Empty(t, f.cloud.Gateway.UsagePlans())
	assert.Empty(t, f.cloud.Gateway.APIKeys())

	deleted := report.Deleted()
	require.NotEmpty(t, deleted)
	assert.Equal(t, ir.KindRole, deleted[len(deleted)-1].Kind, "the role goes last")
}

func TestRemoveLeavesAdoptedFunction(t *testing.T) {
	f := newFixture(t)
	f.cloud.Lambda.Seed(lambdatypes.FunctionConfiguration{FunctionName: aws.String("f1")}, map[string]string{"owner": "ops"})
	spec := f.spec("f1")
	spec.Role = "arn:aws:iam::123456789012:role/exec"
	spec.Tags = []ir.Tag{{Key: "env", Value: "prod"}}
	spec.Triggers = []ir.TriggerSpec{timer("nightly", "rate(1 day)")}
	rec := f.deploy(t, spec, nil)

	report := f.engine.Remove(context.Background(), rec)

	require.NoError(t, report.Err())
	assert.Zero(t, f.cloud.Count("lambda.DeleteFunction"))
	_, found := f.cloud.Lambda.Function("f1")
	assert.True(t, found)
	assert.Equal(t, map[string]string{"owner": "ops"}, f.cloud.Lambda.Tags("f1"))
	assert.Equal(t, 1, f.cloud.Count("events.DeleteRule"), "our trigger still goes")
	assert.Len(t, skipped(report, ir.KindFunction), 1)
}

func TestRemoveKeepsTagsThatWereAlreadyThere(t *testing.T) {
	f := newFixture(t)
	f.cloud.Lambda.Seed(lambdatypes.FunctionConfiguration{FunctionName: aws.String("f1")}, map[string]string{"env": "prod"})
	spec := f.spec("f1")
	spec.Role = "arn:aws:iam::123456789012:role/exec"
	spec.Tags = []ir.Tag{{Key: "env", Value: "prod"}, {Key: "team", Value: "billing"}}
	rec := f.deploy(t, spec, nil)

	assert.Equal(t, []ir.Tag{{Key: "team", Value: "billing"}}, rec.Tags)

	report := f.engine.Remove(context.Background(), rec)
	require.NoError(t, report.Err())
	assert.Equal(t, map[string]string{"env": "prod"}, f.cloud.Lambda.Tags("f1"))
}

func TestRemoveOnlyRevokesForeignRoute(t *testing.T) {
	f := newFixture(t)
	apiID := f.cloud.Gateway.SeedAPI("shop")
	f.cloud.Gateway.SeedRoute(apiID, "/orders", "GET")
	f.cloud.Gateway.SeedStage(apiID, "release")
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}
	rec := f.deploy(t, spec, nil)
	gw := rec.Triggers[0].Gateway
	require.False(t, gw.Route.CreatedByUs)
	require.False(t, gw.Deployment.CreatedByUs)
	require.Len(t, f.cloud.Lambda.Permissions("f1"), 1)

	f.cloud.Reset()
	report := f.engine.Remove(context.Background(), rec)

	require.NoError(t, report.Err())
	assert.Zero(t, f.cloud.Count("apigateway.DeleteMethod"))
	assert.Zero(t, f.cloud.Count("apigateway.DeleteResource"))
	assert.Zero(t, f.cloud.Count("apigateway.DeleteStage"))
	assert.Zero(t, f.cloud.Count("apigateway.DeleteRestApi"))
	assert.Equal(t, []string{"GET"}, f.cloud.Gateway.Paths(apiID)["/orders"])
	assert.Equal(t, []string{"release"}, f.cloud.Gateway.Stages(apiID))
	assert.Equal(t, 1, f.cloud.Count("lambda.RemovePermission"))
}

func TestRemoveKeepsForeignServiceButDropsOurRoute(t *testing.T) {
	f := newFixture(t)
	apiID := f.cloud.Gateway.SeedAPI("shop")
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}
	rec := f.deploy(t, spec, nil)

	report := f.engine.Remove(context.Background(), rec)

	require.NoError(t, report.Err())
	assert.Equal(t, []string{apiID}, f.cloud.Gateway.APIs())
	assert.NotContains(t, f.cloud.Gateway.Paths(apiID), "/orders")
	assert.Empty(t, f.cloud.Gateway.Stages(apiID), "the stage was released by us")
}

func TestRemoveSkipsBusyFunction(t *testing.T) {
	f := newFixture(t)
	rec := f.deploy(t, f.spec("f1"), nil)
	f.cloud.Lambda.SetStatus("f1", lambdatypes.StateActive, lambdatypes.LastUpdateStatusInProgress)

	report := f.engine.Remove(context.Background(), rec)

	assert.Zero(t, f.cloud.Count("lambda.DeleteFunction"))
	skips := skipped(report, ir.KindFunction)
	require.Len(t, skips, 1)
	assert.Contains(t, skips[0].Reason, "busy")
}

func TestRemoveContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{timer("nightly", "rate(1 day)")}
	rec := f.deploy(t, spec, nil)
	f.cloud.FailNext("events.DeleteRule", errors.New("throttled"))

	report := f.engine.Remove(context.Background(), rec)

	require.Error(t, report.Err())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, ir.ActionDelete, failed[0].Action)
	_, found := f.cloud.Lambda.Function("f1")
	assert.False(t, found, "the function is removed regardless")
}

func TestRemoveNilRecord(t *testing.T) {
	f := newFixture(t)
	report := f.engine.Remove(context.Background(), nil)
	assert.Empty(t, report.Outcomes)
	assert.NoError(t, report.Err())
}
