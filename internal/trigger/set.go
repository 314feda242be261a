package trigger

import (
	"context"
	"fmt"

	"github.com/picklr-io/fnstack/internal/config"
	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Set dispatches each trigger to the binder of its kind.
type Set struct {
	binders map[Kind]Binder
}

// NewSet builds every adapter against the given clients. The deployer
// serves gateway triggers; without one they are rejected.
func NewSet(clients *provider.Clients, cfg config.Config, deployer GatewayDeployer) *Set {
	s := &Set{binders: make(map[Kind]Binder)}
	for _, a := range []Adapter{
		&timer{events: clients.Events, lambda: clients.Lambda, prefix: cfg.NamePrefix},
		&storage{s3: clients.S3, lambda: clients.Lambda, prefix: cfg.NamePrefix},
		&logsTopic{logs: clients.Logs, lambda: clients.Lambda, prefix: cfg.NamePrefix},
		&loadBalancer{elb: clients.ELB, lambda: clients.Lambda, prefix: cfg.NamePrefix},
		&topic{sns: clients.Topics, lambda: clients.Lambda},
		&queue{lambda: clients.Lambda, sqs: clients.SQS, kinesis: clients.Kinesis, cfg: cfg},
	} {
		s.binders[a.Kind()] = leaf{a}
	}
	if deployer != nil {
		s.binders[Gateway] = gateway{deployer: deployer}
	}
	return s
}

// Register replaces the binder of a kind.
func (s *Set) Register(kind Kind, b Binder) {
	s.binders[kind] = b
}

func (s *Set) binder(kind string) (Binder, error) {
	b, ok := s.binders[Kind(kind)]
	if !ok {
		return nil, fmt.Errorf("unsupported trigger kind %q", kind)
	}
	return b, nil
}

// Bind converges one trigger. The returned record is set whenever
// anything was learned about the binding, including on error.
func (s *Set) Bind(ctx context.Context, fn provider.Target, spec ir.TriggerSpec, prior *ir.TriggerRecord) (*ir.TriggerRecord, error) {
	b, err := s.binder(spec.Kind)
	if err != nil {
		return nil, err
	}
	return b.Bind(ctx, fn, spec, prior)
}

// Unbind removes a recorded trigger. Only bindings created by us are
// touched.
func (s *Set) Unbind(ctx context.Context, fn provider.Target, rec ir.TriggerRecord) (bool, error) {
	b, err := s.binder(rec.Kind)
	if err != nil {
		return false, err
	}
	return b.Unbind(ctx, fn, rec)
}
