package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

func TestRoutesShareOneService(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{
		route("list", "shop", "GET", "/orders"),
		route("create", "shop", "POST", "/orders"),
	}

	rec := f.deploy(t, spec, nil)

	assert.Equal(t, 1, f.cloud.Count("apigateway.CreateRestApi"))
	require.Len(t, rec.Triggers, 2)
	first, second := rec.Triggers[0].Gateway, rec.Triggers[1].Gateway
	assert.Equal(t, first.Service.ID, second.Service.ID)
	assert.True(t, first.Service.CreatedByUs)
	assert.True(t, second.Service.CreatedByUs)
	assert.Len(t, first.Paths, 1)
	assert.Empty(t, second.Paths, "the path already existed for the second route")
	assert.Equal(t, []string{"GET", "POST"}, f.cloud.Gateway.Paths(first.Service.ID)["/orders"])
	assert.Equal(t, []string{"release"}, f.cloud.Gateway.Stages(first.Service.ID))
}

func TestGatewayRedeployKeepsOwnership(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}
	first := f.deploy(t, spec, nil)

	second := f.deploy(t, spec, first)

	assert.Equal(t, 1, f.cloud.Count("apigateway.CreateRestApi"))
	gw := second.Triggers[0].Gateway
	require.NotNil(t, gw)
	assert.True(t, gw.Service.CreatedByUs)
	assert.True(t, gw.Route.CreatedByUs)
	assert.Equal(t, first.Triggers[0].Gateway.Paths, gw.Paths)
	assert.Equal(t, first.Triggers[0].Gateway.Deployment, gw.Deployment)
}

func TestServiceMatchedIgnoringCase(t *testing.T) {
	f := newFixture(t)
	apiID := f.cloud.Gateway.SeedAPI("Shop")
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}

	rec := f.deploy(t, spec, nil)

	assert.Zero(t, f.cloud.Count("apigateway.CreateRestApi"))
	gw := rec.Triggers[0].Gateway
	assert.Equal(t, apiID, gw.Service.ID)
	assert.False(t, gw.Service.CreatedByUs)
	assert.True(t, gw.Route.CreatedByUs)
}

func TestChangedRouteRetiresThePreviousOne(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}
	first := f.deploy(t, spec, nil)
	apiID := first.Triggers[0].Gateway.Service.ID

	spec.Triggers[0].Gateway.Path = "/invoices"
	second := f.deploy(t, spec, first)

	paths := f.cloud.Gateway.Paths(apiID)
	assert.NotContains(t, paths, "/orders")
	assert.Equal(t, []string{"GET"}, paths["/invoices"])
	assert.Equal(t, apiID, second.Triggers[0].Gateway.Service.ID, "the service is shared, not recreated")
	assert.Zero(t, f.cloud.Count("apigateway.DeleteRestApi"))
	assert.Zero(t, f.cloud.Count("apigateway.DeleteStage"))
}

func TestDroppedRouteReleasesTheStageAgain(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{
		route("list", "shop", "GET", "/orders"),
		route("create", "shop", "POST", "/orders"),
	}
	first := f.deploy(t, spec, nil)
	apiID := first.Triggers[0].Gateway.Service.ID

	f.cloud.Reset()
	spec.Triggers = spec.Triggers[:1]
	second := f.deploy(t, spec, first)

	require.Len(t, second.Triggers, 1)
	assert.Equal(t, 1, f.cloud.Count("apigateway.DeleteMethod"))
	assert.Equal(t, 1, f.cloud.Count("apigateway.CreateDeployment"))
	assert.Zero(t, f.cloud.Count("apigateway.DeleteResource"))
	assert.Equal(t, []string{"GET"}, f.cloud.Gateway.Paths(apiID)["/orders"])
}

func TestUsagePlanAndKey(t *testing.T) {
	f := newFixture(t)
	spec := fullSpec(f)

	rec := f.deploy(t, spec, nil)

	up := rec.Triggers[1].Gateway.UsagePlan
	require.NotNil(t, up)
	assert.True(t, up.Plan.CreatedByUs)
	assert.True(t, up.Stage.CreatedByUs)
	require.NotNil(t, up.Key)
	require.NotNil(t, up.Link)
	assert.True(t, up.Link.CreatedByUs)

	plans := f.cloud.Gateway.UsagePlans()
	require.Len(t, plans, 1)
	plan := plans[up.Plan.ID]
	require.Len(t, plan.ApiStages, 1)
	assert.Equal(t, "release", *plan.ApiStages[0].Stage)
	assert.Equal(t, []string{up.Key.ID}, f.cloud.Gateway.PlanKeys(up.Plan.ID))
}

func TestDomainIsMapped(t *testing.T) {
	f := newFixture(t)
	f.cloud.Certificates.AddCertificate("*.example.com")
	spec := f.spec("f1")
	tr := route("list", "shop", "GET", "/orders")
	tr.Gateway.Domains = []ir.DomainSpec{{Domain: "api.example.com", BasePath: "v1"}}
	spec.Triggers = []ir.TriggerSpec{tr}

	rec := f.deploy(t, spec, nil)

	assert.Empty(t, rec.Failures)
	gw := rec.Triggers[0].Gateway
	require.Len(t, gw.Domains, 1)
	assert.True(t, gw.Domains[0].Domain.CreatedByUs)
	assert.True(t, gw.Domains[0].Mapping.CreatedByUs)
	assert.Equal(t, []string{"api.example.com"}, f.cloud.Domains.Names())
	assert.Len(t, f.cloud.Domains.Mappings("api.example.com"), 1)
}

func TestDomainFailureKeepsTheRoute(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	tr := route("list", "shop", "GET", "/orders")
	tr.Gateway.Domains = []ir.DomainSpec{{Domain: "api.example.com"}}
	spec.Triggers = []ir.TriggerSpec{tr}

	rec := f.deploy(t, spec, nil)

	require.Len(t, rec.Failures, 1)
	assert.Equal(t, ir.KindTrigger, rec.Failures[0].Kind)
	require.Len(t, rec.Triggers, 1)
	gw := rec.Triggers[0].Gateway
	require.NotNil(t, gw)
	assert.NotEmpty(t, gw.URL)
	assert.Empty(t, gw.Domains)
	assert.Empty(t, f.cloud.Domains.Names())
}

func TestDomainFailureStillRetiresThePreviousRoute(t *testing.T) {
	tests := []struct {
		name    string
		foreign bool
	}{
		{name: "service created by us"},
		{name: "existing service", foreign: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var seeded string
			if tt.foreign {
				seeded = f.cloud.Gateway.SeedAPI("shop")
			}
			spec := f.spec("f1")
			spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}
			first := f.deploy(t, spec, nil)
			apiID := first.Triggers[0].Gateway.Service.ID

			tr := route("list", "shop", "GET", "/invoices")
			tr.Gateway.Domains = []ir.DomainSpec{{Domain: "api.example.com"}}
			spec.Triggers = []ir.TriggerSpec{tr}
			second := f.deploy(t, spec, first)

			require.Len(t, second.Failures, 1, "the domain has no certificate")
			gw := second.Triggers[0].Gateway
			assert.Equal(t, "GET /invoices", gw.Route.Name)
			assert.Empty(t, gw.Stale)
			paths := f.cloud.Gateway.Paths(apiID)
			assert.NotContains(t, paths, "/orders")
			assert.Equal(t, []string{"GET"}, paths["/invoices"])

			report := f.engine.Remove(context.Background(), second)
			require.NoError(t, report.Err())
			if tt.foreign {
				paths = f.cloud.Gateway.Paths(seeded)
				assert.NotContains(t, paths, "/orders")
				assert.NotContains(t, paths, "/invoices")
			} else {
				assert.Empty(t, f.cloud.Gateway.APIs())
			}
		})
	}
}

func TestUnreleasedRouteCarriesThePreviousOne(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}
	first := f.deploy(t, spec, nil)
	apiID := first.Triggers[0].Gateway.Service.ID

	f.cloud.FailNext("apigateway.CreateDeployment", provider.NewError("BadRequestException", "deployment rejected"))
	spec.Triggers[0].Gateway.Path = "/invoices"
	second := f.deploy(t, spec, first)

	require.Len(t, second.Failures, 1)
	gw := second.Triggers[0].Gateway
	require.NotNil(t, gw)
	require.Len(t, gw.Stale, 1, "the released route is still tracked")
	assert.Equal(t, "GET /orders", gw.Stale[0].Route.Name)
	assert.Contains(t, f.cloud.Gateway.Paths(apiID), "/orders")

	report := f.engine.Remove(context.Background(), second)
	require.NoError(t, report.Err())
	assert.Empty(t, f.cloud.Gateway.APIs())
}

func TestRedeployAfterUnreleasedRouteRetiresIt(t *testing.T) {
	f := newFixture(t)
	spec := f.spec("f1")
	spec.Triggers = []ir.TriggerSpec{route("list", "shop", "GET", "/orders")}
	first := f.deploy(t, spec, nil)
	apiID := first.Triggers[0].Gateway.Service.ID

	f.cloud.FailNext("apigateway.CreateDeployment", provider.NewError("BadRequestException", "deployment rejected"))
	spec.Triggers[0].Gateway.Path = "/invoices"
	second := f.deploy(t, spec, first)
	require.Len(t, second.Triggers[0].Gateway.Stale, 1)

	third := f.deploy(t, spec, second)

	assert.Empty(t, third.Failures)
	assert.Empty(t, third.Triggers[0].Gateway.Stale)
	paths := f.cloud.Gateway.Paths(apiID)
	assert.NotContains(t, paths, "/orders")
	assert.Equal(t, []string{"GET"}, paths["/invoices"])
}

func TestReleasesFlattenOldestFirst(t *testing.T) {
	svc := ir.Handle{ID: "api1", Kind: ir.KindGatewayService}
	oldest := ir.GatewayRecord{Service: svc, Route: ir.Handle{ID: "r1 GET", Kind: ir.KindRoute}}
	older := ir.GatewayRecord{Service: svc, Route: ir.Handle{ID: "r2 GET", Kind: ir.KindRoute}, Stale: []ir.GatewayRecord{oldest}}
	cur := &ir.GatewayRecord{Service: svc, Route: ir.Handle{ID: "r3 GET", Kind: ir.KindRoute}, Stale: []ir.GatewayRecord{older}}

	got := releases(cur)
	require.Len(t, got, 3)
	assert.Equal(t, "r1 GET", got[0].Route.ID)
	assert.Equal(t, "r2 GET", got[1].Route.ID)
	assert.Equal(t, "r3 GET", got[2].Route.ID)
	for _, rel := range got {
		assert.Empty(t, rel.Stale)
	}

	same := &ir.GatewayRecord{Service: svc, Route: ir.Handle{ID: "r3 GET", Kind: ir.KindRoute}}
	assert.Empty(t, carry(same, cur), "nothing the new record does not already hold")
	assert.Len(t, carry(cur, same), 2)
}

func TestStandaloneGatewayDeployAndRemove(t *testing.T) {
	f := newFixture(t)
	rec := f.deploy(t, f.spec("f1"), nil)
	fn := targetOf(t, rec)
	ctx := context.Background()

	gw, err := f.engine.DeployGateway(ctx, fn, ir.GatewaySpec{
		Service: ir.GatewayServiceSpec{Name: "shop", Stage: "beta"},
		Method:  "get",
		Path:    "/status",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", gw.Stage)
	assert.Equal(t, "GET /status", gw.Route.Name)

	require.NoError(t, f.engine.RemoveGateway(ctx, fn, gw))
	assert.Empty(t, f.cloud.Gateway.APIs())
	assert.Empty(t, f.cloud.Lambda.Permissions("f1"))
}

func TestRefsCountSharedEntities(t *testing.T) {
	svc := ir.Handle{ID: "api1", Kind: ir.KindGatewayService}
	a := &ir.GatewayRecord{Service: svc, Stage: "release", Route: ir.Handle{ID: "r1 GET", Kind: ir.KindRoute}}
	b := &ir.GatewayRecord{Service: svc, Stage: "release", Route: ir.Handle{ID: "r1 POST", Kind: ir.KindRoute}}

	c := make(refs)
	c.add(a)
	c.add(b)
	c.remove(a)

	assert.True(t, c.held(svc))
	assert.True(t, c.stageHeld("api1", "release"))
	assert.False(t, c.held(a.Route))
	assert.True(t, c.held(b.Route))

	c.remove(b)
	assert.False(t, c.held(svc))
	assert.Empty(t, c)
}
