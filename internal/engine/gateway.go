package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	agtypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	v2types "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"

	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/reconcile"
	"github.com/picklr-io/fnstack/internal/trigger"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

var _ trigger.GatewayDeployer = (*run)(nil)

// DeployGateway provisions one gateway route outside a function deploy.
func (e *Engine) DeployGateway(ctx context.Context, fn provider.Target, spec ir.GatewaySpec, prior *ir.GatewayRecord) (*ir.GatewayRecord, error) {
	r := e.newRun(fn.Name, nil)
	r.refs.add(prior)
	return r.DeployGateway(ctx, fn, spec, prior)
}

// RemoveGateway tears down one gateway route outside a function remove.
func (e *Engine) RemoveGateway(ctx context.Context, fn provider.Target, rec *ir.GatewayRecord) error {
	r := e.newRun(fn.Name, nil)
	r.refs.add(rec)
	return r.RemoveGateway(ctx, fn, rec)
}

// DeployGateway reconciles service, route, stage release, usage plan and
// domains in that order. Once the route is released the prior record is
// retired even if a usage plan or domain failed; until then the prior
// record is carried in Stale so a later deploy or remove can reach it.
func (r *run) DeployGateway(ctx context.Context, fn provider.Target, spec ir.GatewaySpec, prior *ir.GatewayRecord) (*ir.GatewayRecord, error) {
	r.refs.remove(prior)
	gw, released, err := r.deployGateway(ctx, fn, spec, prior)
	if gw == nil {
		r.refs.add(prior)
		return prior, err
	}
	if prior == nil {
		r.refs.add(gw)
		return gw, err
	}
	if !released {
		gw.Stale = carry(prior, gw)
		r.refs.add(gw)
		return gw, err
	}

	r.refs.add(gw)
	if rerr := r.retire(ctx, fn, prior); rerr != nil {
		r.refs.remove(gw)
		gw.Stale = carry(prior, gw)
		r.refs.add(gw)
		return gw, errors.Join(err, fmt.Errorf("retire previous route: %w", rerr))
	}
	return gw, err
}

// RemoveGateway deletes the parts of rec created by us that no other live
// gateway record still uses.
func (r *run) RemoveGateway(ctx context.Context, fn provider.Target, rec *ir.GatewayRecord) error {
	if rec == nil {
		return nil
	}
	r.refs.remove(rec)
	return r.retire(ctx, fn, rec)
}

// retire tears down rec and every stale release it carries, oldest first.
// Each part is torn down while the later ones still hold what they share.
func (r *run) retire(ctx context.Context, fn provider.Target, rec *ir.GatewayRecord) error {
	parts := releases(rec)
	for i := range parts {
		r.refs.add(&parts[i])
	}
	var errs []error
	for i := range parts {
		r.refs.remove(&parts[i])
		if err := r.teardownGateway(ctx, fn, &parts[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// releases flattens rec into its stale releases followed by rec itself.
func releases(rec *ir.GatewayRecord) []ir.GatewayRecord {
	out := make([]ir.GatewayRecord, 0, len(rec.Stale)+1)
	for _, s := range rec.Stale {
		out = append(out, releases(&s)...)
	}
	cur := *rec
	cur.Stale = nil
	return append(out, cur)
}

// carry returns the releases of prior that still reference something gw
// does not.
func carry(prior, gw *ir.GatewayRecord) []ir.GatewayRecord {
	live := make(map[string]bool)
	for _, k := range refKeys(gw) {
		live[k] = true
	}
	var out []ir.GatewayRecord
	for _, rel := range releases(prior) {
		for _, k := range refKeys(&rel) {
			if !live[k] {
				out = append(out, rel)
				break
			}
		}
	}
	return out
}

// deployGateway reports released once the route is live on the stage.
func (r *run) deployGateway(ctx context.Context, fn provider.Target, spec ir.GatewaySpec, prior *ir.GatewayRecord) (gw *ir.GatewayRecord, released bool, err error) {
	svc, err := r.resolveService(ctx, spec.Service, prior)
	if err != nil {
		return nil, false, err
	}
	stage := spec.Service.Stage
	if stage == "" {
		stage = r.cfg.Stage
	}
	gw = &ir.GatewayRecord{Service: svc.handle, ServiceKey: spec.Service.Key(), Stage: stage}
	samePrior := prior != nil && prior.Service.ID == svc.handle.ID
	if samePrior && prior.Stage != stage {
		// The old stage is retired with the prior record.
		samePrior = false
	}

	routes := reconcile.NewRoutes(r.clients.Gateway, r.clients.Lambda, svc.handle.ID)
	in := reconcile.RouteInput{
		Path:           spec.Path,
		Method:         spec.Method,
		Authorization:  spec.Authorization,
		APIKeyRequired: spec.APIKeyRequired,
		Target:         fn,
	}
	ref := reconcile.Ref{}
	if samePrior && strings.EqualFold(prior.Route.Name, routes.Key(in)) {
		ref = reconcile.RefTo(&prior.Route)
	}
	start := time.Now()
	route, err := reconcile.Run[reconcile.RouteInput, reconcile.RouteState](ctx, routes, in, ref)
	r.step(route.Handle, route.Outcome, start, err)
	switch {
	case route.Created():
		gw.Paths = route.State.CreatedPaths
	case ref.Prior != nil && route.Handle.ID == prior.Route.ID:
		gw.Paths = prior.Paths
	}
	if route.Handle.IsZero() {
		// A failed create still reports the path segments it added.
		gw.Paths = route.State.CreatedPaths
		return gw, false, err
	}
	gw.Route = route.Handle
	if err != nil {
		return gw, false, err
	}

	var priorDeployment *ir.Handle
	if samePrior {
		priorDeployment = prior.Deployment
	}
	gw.Deployment, err = r.release(ctx, svc, stage, route.Outcome != reconcile.OutcomeNoop, priorDeployment)
	if err != nil {
		return gw, false, fmt.Errorf("release stage %s: %w", stage, err)
	}
	gw.URL = reconcile.InvokeURL(svc.handle.ID, fn.Region, stage, spec.Path)

	// From here on failures leave the route serving through the stage URL.
	// A part that failed keeps its prior handles so retiring the prior
	// record does not take it down.
	var errs []error
	if spec.UsagePlan != nil {
		var priorPlan *ir.UsagePlanRecord
		if samePrior {
			priorPlan = prior.UsagePlan
		}
		gw.UsagePlan, err = r.deployUsagePlan(ctx, *spec.UsagePlan, svc.handle.ID, stage, priorPlan)
		if err != nil {
			if gw.UsagePlan == nil {
				gw.UsagePlan = priorPlan
			}
			errs = append(errs, err)
		}
	}

	for _, d := range spec.Domains {
		var priorDomain *ir.DomainRecord
		if prior != nil {
			priorDomain = findDomain(prior.Domains, d.Domain)
		}
		dr, err := r.deployDomain(ctx, d, svc.handle.ID, stage, priorDomain)
		if dr == nil && err != nil && priorDomain != nil {
			dr = priorDomain
		}
		if dr != nil {
			gw.Domains = append(gw.Domains, *dr)
		}
		if err != nil {
			logging.Warn("domain not mapped", "domain", d.Domain, "error", err)
			errs = append(errs, fmt.Errorf("domain %s: %w", d.Domain, err))
		}
	}
	return gw, true, errors.Join(errs...)
}

// resolveService finds or creates the gateway service once per
// invocation; later routes on the same service reuse the cached handle.
func (r *run) resolveService(ctx context.Context, spec ir.GatewayServiceSpec, prior *ir.GatewayRecord) (*service, error) {
	key := spec.Key()
	var priorHandle *ir.Handle
	if prior != nil && prior.ServiceKey == key {
		priorHandle = &prior.Service
	}
	if svc, ok := r.services[key]; ok {
		svc.handle = svc.handle.Inherit(priorHandle)
		return svc, nil
	}

	ref := reconcile.RefTo(priorHandle)
	if spec.ID != "" {
		ref.ID = spec.ID
	}
	start := time.Now()
	res, err := reconcile.Run[ir.GatewayServiceSpec, agtypes.RestApi](ctx, r.apis, spec, ref)
	r.step(res.Handle, res.Outcome, start, err)
	if err != nil {
		return nil, err
	}
	svc := &service{handle: res.Handle, stages: make(map[string]bool)}
	r.services[key] = svc
	return svc, nil
}

// release deploys the service's routes to stage when a route changed or
// the stage does not exist yet. The stage counts as ours when this
// release created it or an earlier one we recorded did.
func (r *run) release(ctx context.Context, svc *service, stage string, changed bool, prior *ir.Handle) (*ir.Handle, error) {
	exists, err := r.apis.StageExists(ctx, svc.handle.ID, stage)
	if err != nil {
		return prior, err
	}
	if exists && !changed {
		return prior, nil
	}
	start := time.Now()
	id, err := r.apis.Deploy(ctx, svc.handle.ID, stage, "fnstack release of "+r.function)
	h := &ir.Handle{
		ID:          id,
		Kind:        ir.KindDeployment,
		Name:        stage,
		CreatedByUs: !exists || svc.stages[stage] || (prior != nil && prior.CreatedByUs),
	}
	r.step(*h, reconcile.OutcomeCreated, start, err)
	if err != nil {
		return prior, err
	}
	svc.stages[stage] = h.CreatedByUs
	return h, nil
}

func (r *run) deployUsagePlan(ctx context.Context, spec ir.UsagePlanSpec, apiID, stage string, prior *ir.UsagePlanRecord) (*ir.UsagePlanRecord, error) {
	ref := reconcile.Ref{ID: spec.ID}
	if prior != nil && (prior.Plan.ID == spec.ID || (spec.ID == "" && strings.EqualFold(prior.Plan.Name, spec.Name))) {
		ref = reconcile.RefTo(&prior.Plan)
	}
	start := time.Now()
	plan, err := reconcile.Run[ir.UsagePlanSpec, agtypes.UsagePlan](ctx, r.plans, spec, ref)
	r.step(plan.Handle, plan.Outcome, start, err)
	if plan.Handle.IsZero() {
		return nil, err
	}
	up := &ir.UsagePlanRecord{Plan: plan.Handle}
	if err != nil {
		return up, err
	}

	linked, err := r.plans.LinkStage(ctx, plan.State, apiID, stage)
	up.Stage = ir.Handle{ID: apiID + ":" + stage, Kind: ir.KindPlanStage, Name: plan.Handle.Name, CreatedByUs: linked}
	if prior != nil {
		up.Stage = up.Stage.Inherit(&prior.Stage)
	}
	if err != nil {
		return up, fmt.Errorf("link usage plan %s to stage %s: %w", plan.Handle.ID, stage, err)
	}

	if spec.APIKey == "" {
		return up, nil
	}
	keyRef := reconcile.Ref{}
	if prior != nil && prior.Key != nil && prior.Key.Name == spec.APIKey {
		keyRef = reconcile.RefTo(prior.Key)
	}
	start = time.Now()
	key, err := reconcile.Run[reconcile.APIKeyInput, agtypes.ApiKey](ctx, r.keys, reconcile.APIKeyInput{Name: spec.APIKey}, keyRef)
	r.step(key.Handle, key.Outcome, start, err)
	if key.Handle.IsZero() {
		return up, err
	}
	up.Key = &key.Handle
	if err != nil {
		return up, err
	}
	added, err := r.keys.Link(ctx, plan.Handle.ID, key.Handle.ID)
	link := ir.Handle{ID: plan.Handle.ID + ":" + key.Handle.ID, Kind: ir.KindPlanKey, Name: spec.APIKey, CreatedByUs: added}
	if prior != nil {
		link = link.Inherit(prior.Link)
	}
	up.Link = &link
	if err != nil {
		return up, fmt.Errorf("link api key %s: %w", spec.APIKey, err)
	}
	return up, nil
}

func (r *run) deployDomain(ctx context.Context, spec ir.DomainSpec, apiID, stage string, prior *ir.DomainRecord) (*ir.DomainRecord, error) {
	cert := spec.CertificateArn
	if cert == "" {
		var err error
		if cert, err = reconcile.FindCertificate(ctx, r.clients.Certificates, spec.Domain); err != nil {
			return nil, err
		}
	}
	var priorDomain, priorMapping *ir.Handle
	if prior != nil {
		priorDomain = &prior.Domain
		if strings.EqualFold(prior.Mapping.Name, strings.Trim(spec.BasePath, "/")) && !prior.Mapping.IsZero() {
			priorMapping = &prior.Mapping
		}
	}

	start := time.Now()
	dom, err := reconcile.Run[reconcile.DomainInput, reconcile.DomainState](ctx, r.domains, reconcile.DomainInput{Name: spec.Domain, CertificateArn: cert}, reconcile.RefTo(priorDomain))
	r.step(dom.Handle, dom.Outcome, start, err)
	if dom.Handle.IsZero() {
		return nil, err
	}
	dr := &ir.DomainRecord{Domain: dom.Handle}
	if err != nil {
		return dr, err
	}

	mappings := reconcile.NewAPIMappings(r.clients.Domains, dom.Handle.ID)
	in := reconcile.APIMappingInput{APIID: apiID, Stage: stage, BasePath: spec.BasePath}
	start = time.Now()
	m, err := reconcile.Run[reconcile.APIMappingInput, v2types.ApiMapping](ctx, mappings, in, reconcile.RefTo(priorMapping))
	r.step(m.Handle, m.Outcome, start, err)
	dr.Mapping = m.Handle
	return dr, err
}

func findDomain(domains []ir.DomainRecord, name string) *ir.DomainRecord {
	for i := range domains {
		if strings.EqualFold(domains[i].Domain.ID, name) {
			return &domains[i]
		}
	}
	return nil
}

// teardownGateway deletes the parts of gw created by us and not held by
// another live record, outermost first: domains, usage plan, route,
// paths, stage, service. Every step is attempted.
func (r *run) teardownGateway(ctx context.Context, fn provider.Target, gw *ir.GatewayRecord) error {
	var errs []error
	owned := func(h ir.Handle) bool {
		return !h.IsZero() && h.CreatedByUs && !r.refs.held(h)
	}
	do := func(h ir.Handle, action string, f func() error) bool {
		start := time.Now()
		err := f()
		r.outcome(h, action, start, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s %s: %w", action, h.Kind, h.ID, err))
			return false
		}
		return true
	}

	for _, d := range gw.Domains {
		mappings := reconcile.NewAPIMappings(r.clients.Domains, d.Domain.ID)
		if owned(d.Mapping) {
			do(d.Mapping, ir.ActionDelete, func() error { return mappings.Delete(ctx, d.Mapping.ID) })
		}
		if !owned(d.Domain) {
			continue
		}
		n, err := mappings.Count(ctx)
		if err != nil {
			do(d.Domain, ir.ActionDelete, func() error { return err })
			continue
		}
		if n > 0 {
			r.skip(d.Domain, "domain still has mappings")
			continue
		}
		do(d.Domain, ir.ActionDelete, func() error { return r.domains.Delete(ctx, d.Domain.ID) })
	}

	if up := gw.UsagePlan; up != nil {
		if up.Link != nil && up.Key != nil && owned(*up.Link) {
			do(*up.Link, ir.ActionUnbind, func() error { return r.keys.Unlink(ctx, up.Plan.ID, up.Key.ID) })
		}
		if up.Key != nil && owned(*up.Key) {
			do(*up.Key, ir.ActionDelete, func() error { return r.keys.Delete(ctx, up.Key.ID) })
		}
		if owned(up.Stage) {
			do(up.Stage, ir.ActionUnbind, func() error { return r.plans.UnlinkStage(ctx, up.Plan.ID, gw.Service.ID, gw.Stage) })
		}
		if owned(up.Plan) {
			do(up.Plan, ir.ActionDelete, func() error { return r.plans.Delete(ctx, up.Plan.ID) })
		}
	}

	routes := reconcile.NewRoutes(r.clients.Gateway, r.clients.Lambda, gw.Service.ID)
	routeRemoved := false
	if !gw.Route.IsZero() && !r.refs.held(gw.Route) {
		if gw.Route.CreatedByUs {
			routeRemoved = do(gw.Route, ir.ActionDelete, func() error { return routes.Delete(ctx, gw.Route, fn.Name) })
		} else {
			do(gw.Route, ir.ActionUnbind, func() error { return routes.Revoke(ctx, gw.Route, fn.Name) })
		}
	}

	for i := len(gw.Paths) - 1; i >= 0; i-- {
		p := gw.Paths[i]
		if !owned(p) {
			continue
		}
		start := time.Now()
		gone, err := routes.DeletePathIfEmpty(ctx, p.ID)
		switch {
		case err != nil:
			r.outcome(p, ir.ActionDelete, start, err)
			errs = append(errs, fmt.Errorf("delete path %s: %w", p.Name, err))
		case gone:
			r.outcome(p, ir.ActionDelete, start, nil)
		default:
			r.skip(p, "path still in use")
		}
	}

	serviceOwned := owned(gw.Service)
	if !serviceOwned && gw.Stage != "" && !r.refs.stageHeld(gw.Service.ID, gw.Stage) {
		stage := ir.Handle{ID: gw.Service.ID + ":" + gw.Stage, Kind: ir.KindDeployment, Name: gw.Stage}
		switch {
		case gw.Deployment != nil && gw.Deployment.CreatedByUs:
			stage.CreatedByUs = true
			do(stage, ir.ActionDelete, func() error { return r.apis.DeleteStage(ctx, gw.Service.ID, gw.Stage) })
		case routeRemoved:
			r.redeploy(ctx, gw.Service.ID, gw.Stage, &errs)
		}
	} else if !serviceOwned && routeRemoved {
		r.redeploy(ctx, gw.Service.ID, gw.Stage, &errs)
	}

	if serviceOwned {
		if do(gw.Service, ir.ActionDelete, func() error { return r.apis.Delete(ctx, gw.Service.ID) }) {
			delete(r.services, gw.ServiceKey)
		}
	}
	return errors.Join(errs...)
}

// redeploy releases the stage again so a removed route stops serving. A
// service left without methods cannot be released; that is not an error.
func (r *run) redeploy(ctx context.Context, apiID, stage string, errs *[]error) {
	start := time.Now()
	_, err := r.apis.Deploy(ctx, apiID, stage, "fnstack release of "+r.function)
	h := ir.Handle{ID: apiID + ":" + stage, Kind: ir.KindDeployment, Name: stage}
	if err != nil && provider.ErrorCode(err) == "BadRequestException" {
		r.skip(h, "no methods left to release")
		return
	}
	r.step(h, reconcile.OutcomeUpdated, start, err)
	if err != nil {
		logging.Warn("stage not released", "service", apiID, "stage", stage, "error", err)
		*errs = append(*errs, fmt.Errorf("release stage %s: %w", stage, err))
	}
}

// refs counts the live gateway records that use each shared entity.
type refs map[string]int

func handleKey(h ir.Handle) string { return string(h.Kind) + ":" + h.ID }

func stageKey(serviceID, stage string) string { return "stage:" + serviceID + ":" + stage }

func refKeys(gw *ir.GatewayRecord) []string {
	var keys []string
	add := func(h ir.Handle) {
		if !h.IsZero() {
			keys = append(keys, handleKey(h))
		}
	}
	add(gw.Service)
	add(gw.Route)
	for _, p := range gw.Paths {
		add(p)
	}
	if gw.Stage != "" && !gw.Service.IsZero() {
		keys = append(keys, stageKey(gw.Service.ID, gw.Stage))
	}
	if up := gw.UsagePlan; up != nil {
		add(up.Plan)
		add(up.Stage)
		if up.Key != nil {
			add(*up.Key)
		}
		if up.Link != nil {
			add(*up.Link)
		}
	}
	for _, d := range gw.Domains {
		add(d.Domain)
		add(d.Mapping)
	}
	for i := range gw.Stale {
		keys = append(keys, refKeys(&gw.Stale[i])...)
	}
	return keys
}

func (c refs) add(gw *ir.GatewayRecord) {
	if gw == nil {
		return
	}
	for _, k := range refKeys(gw) {
		c[k]++
	}
}

func (c refs) remove(gw *ir.GatewayRecord) {
	if gw == nil {
		return
	}
	for _, k := range refKeys(gw) {
		if c[k]--; c[k] <= 0 {
			delete(c, k)
		}
	}
}

func (c refs) held(h ir.Handle) bool { return c[handleKey(h)] > 0 }

func (c refs) stageHeld(serviceID, stage string) bool { return c[stageKey(serviceID, stage)] > 0 }
