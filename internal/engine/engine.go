// Package engine drives one function deploy through its phases and tears
// a recorded deploy down again. It owns ordering and ownership; the
// per-resource work lives in reconcile and trigger.
package engine

import (
	"time"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	"github.com/picklr-io/fnstack/internal/logging"
	"github.com/picklr-io/fnstack/internal/reconcile"
	"github.com/picklr-io/fnstack/internal/trigger"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Phase is a state of the deploy state machine.
type Phase string

const (
	PhaseInit               Phase = "init"
	PhaseFunctionReconciled Phase = "function-reconciled"
	PhaseTagsApplied        Phase = "tags-applied"
	PhaseTriggersApplied    Phase = "triggers-applied"
	PhaseDone               Phase = "done"
	PhaseFailed             Phase = "failed"
)

// Event reports a phase transition (Kind empty) or one resource step.
type Event struct {
	Function string
	Phase    Phase
	Kind     ir.Kind
	Name     string
	ID       string
	Action   string // create, update, noop, delete, unbind, skip
	Duration time.Duration
	Error    error
}

// EventCallback is called for each event if set.
type EventCallback func(event Event)

// Engine deploys and removes functions in one region.
type Engine struct {
	cfg     config.Config
	clients *provider.Clients

	functions *reconcile.Functions
	roles     *reconcile.Roles
	logGroups *reconcile.LogGroups
	apis      *reconcile.RestAPIs
	plans     *reconcile.UsagePlans
	keys      *reconcile.APIKeys
	domains   *reconcile.Domains
}

// New builds an engine over the given clients.
func New(cfg config.Config, clients *provider.Clients) *Engine {
	return &Engine{
		cfg:       cfg,
		clients:   clients,
		functions: reconcile.NewFunctions(clients.Lambda, cfg),
		roles:     reconcile.NewRoles(clients.IAM),
		logGroups: reconcile.NewLogGroups(clients.Logs),
		apis:      reconcile.NewRestAPIs(clients.Gateway),
		plans:     reconcile.NewUsagePlans(clients.Gateway),
		keys:      reconcile.NewAPIKeys(clients.Gateway),
		domains:   reconcile.NewDomains(clients.Domains),
	}
}

// run is the state of one Deploy or Remove call. The service cache and
// reference counts never outlive it.
type run struct {
	*Engine
	function string
	phase    Phase
	callback EventCallback
	triggers *trigger.Set

	// services caches gateway services resolved in this invocation, keyed
	// by their natural key.
	services map[string]*service

	// refs counts how many live gateway records still use a shared
	// gateway entity.
	refs refs

	// report is set during Remove.
	report *ir.RemoveReport
}

type service struct {
	handle ir.Handle
	// stages released by this invocation, with whether we created them.
	stages map[string]bool
}

func (e *Engine) newRun(function string, callback EventCallback) *run {
	r := &run{
		Engine:   e,
		function: function,
		phase:    PhaseInit,
		callback: callback,
		services: make(map[string]*service),
		refs:     make(refs),
	}
	r.triggers = trigger.NewSet(e.clients, e.cfg, r)
	return r
}

func (r *run) emit(ev Event) {
	ev.Function = r.function
	ev.Phase = r.phase
	if r.callback != nil {
		r.callback(ev)
	}
}

func (r *run) advance(p Phase) {
	r.phase = p
	logging.Info("phase", "function", r.function, "phase", p)
	r.emit(Event{})
}

func (r *run) fail(err error) {
	r.phase = PhaseFailed
	logging.Error("deploy failed", "function", r.function, "error", err)
	r.emit(Event{Error: err})
}

// step reports the outcome of one resource step.
func (r *run) step(h ir.Handle, action string, start time.Time, err error) {
	r.emit(Event{Kind: h.Kind, Name: h.Name, ID: h.ID, Action: action, Duration: time.Since(start), Error: err})
}

// outcome reports one teardown step and adds it to the remove report.
func (r *run) outcome(h ir.Handle, action string, start time.Time, err error) {
	if err != nil {
		logging.Warn("teardown step failed", "function", r.function, "kind", h.Kind, "id", h.ID, "action", action, "error", err)
	} else {
		logging.Info("teardown step", "function", r.function, "kind", h.Kind, "id", h.ID, "action", action)
	}
	r.step(h, action, start, err)
	if r.report != nil {
		r.report.Add(h, action, err)
	}
}

func (r *run) skip(h ir.Handle, reason string) {
	logging.Debug("teardown step skipped", "function", r.function, "kind", h.Kind, "id", h.ID, "reason", reason)
	r.emit(Event{Kind: h.Kind, Name: h.Name, ID: h.ID, Action: ir.ActionSkip})
	if r.report != nil {
		r.report.Skip(h, reason)
	}
}
