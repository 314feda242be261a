package trigger

import (
	"context"
	"fmt"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// GatewayDeployer provisions the composite behind a gateway route: the
// service, the route, its release and the optional usage plan and
// domains. The deployment orchestrator implements it.
type GatewayDeployer interface {
	DeployGateway(ctx context.Context, fn provider.Target, spec ir.GatewaySpec, prior *ir.GatewayRecord) (*ir.GatewayRecord, error)
	RemoveGateway(ctx context.Context, fn provider.Target, rec *ir.GatewayRecord) error
}

// gateway hands the route to the deployer instead of a leaf API. A route
// has no disabled state, so a disabled trigger tears its route down.
type gateway struct {
	deployer GatewayDeployer
}

var _ Binder = gateway{}

func gatewayKey(spec ir.TriggerSpec) string {
	if spec.Gateway == nil {
		return string(Gateway) + ":" + spec.Name
	}
	return string(Gateway) + ":" + spec.Gateway.Service.Key() + ":" + spec.Gateway.RouteKey()
}

func (g gateway) Bind(ctx context.Context, fn provider.Target, spec ir.TriggerSpec, prior *ir.TriggerRecord) (*ir.TriggerRecord, error) {
	rec := &ir.TriggerRecord{
		Kind:    spec.Kind,
		Name:    spec.Name,
		Key:     gatewayKey(spec),
		Enabled: spec.IsEnabled(),
		Spec:    spec,
	}
	if spec.Gateway == nil {
		return rec, missing(spec)
	}
	var priorGW *ir.GatewayRecord
	if prior != nil {
		priorGW = prior.Gateway
	}

	if !spec.IsEnabled() {
		rec.Binding = ir.Handle{Kind: ir.KindRoute, Name: spec.Gateway.RouteKey()}
		if priorGW == nil {
			return rec, nil
		}
		logging.Info("remove disabled route", "trigger", spec.Name, "route", spec.Gateway.RouteKey())
		if err := g.deployer.RemoveGateway(ctx, fn, priorGW); err != nil {
			rec.Gateway = priorGW
			return rec, fmt.Errorf("remove disabled gateway trigger %q: %w", spec.Name, err)
		}
		return rec, nil
	}

	gw, err := g.deployer.DeployGateway(ctx, fn, *spec.Gateway, priorGW)
	if gw != nil {
		rec.Gateway = gw
		rec.Binding = gw.Route
	}
	if err != nil {
		return rec, fmt.Errorf("gateway trigger %q: %w", spec.Name, err)
	}
	return rec, nil
}

func (g gateway) Unbind(ctx context.Context, fn provider.Target, rec ir.TriggerRecord) (bool, error) {
	if rec.Gateway == nil {
		return false, nil
	}
	if err := g.deployer.RemoveGateway(ctx, fn, rec.Gateway); err != nil {
		return true, err
	}
	return true, nil
}
