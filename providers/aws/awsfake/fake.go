// Package awsfake is an in-memory stand-in for every service in
// providers/aws. It counts calls and can inject failures so tests can
// assert on exactly which provider mutations an operation issued.
package awsfake

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// Recorder counts calls per operation and hands out injected failures.
// Operations are named "<service>.<Method>", e.g. "lambda.CreateFunction".
type Recorder struct {
	mu       sync.Mutex
	calls    map[string]int
	order    []string
	failures map[string][]error
}

func newRecorder() *Recorder {
	return &Recorder{calls: make(map[string]int), failures: make(map[string][]error)}
}

func (r *Recorder) call(op string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[op]++
	r.order = append(r.order, op)
	if q := r.failures[op]; len(q) > 0 {
		r.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

// Count returns how many times op was called.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// FailNext makes the next call of op return err. Repeated calls queue.
func (r *Recorder) FailNext(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = append(r.failures[op], err)
}

// Calls returns every operation in call order.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Mutations returns the count of every non-read operation.
func (r *Recorder) Mutations() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for op, n := range r.calls {
		if !isRead(op) {
			out[op] = n
		}
	}
	return out
}

// MutationsMatching returns the mutations whose name contains substr,
// sorted.
func (r *Recorder) MutationsMatching(substr string) []string {
	var out []string
	for op := range r.Mutations() {
		if strings.Contains(op, substr) {
			out = append(out, op)
		}
	}
	sort.Strings(out)
	return out
}

// Reset clears counters and pending failures.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = make(map[string]int)
	r.order = nil
	r.failures = make(map[string][]error)
}

func isRead(op string) bool {
	method := op[strings.IndexByte(op, '.')+1:]
	for _, p := range []string{"Get", "List", "Describe"} {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

// Cloud is one fake account in one region.
type Cloud struct {
	*Recorder

	Region    string
	Account   string
	Partition string

	Lambda       *Lambda
	IAM          *IAM
	Logs         *Logs
	Events       *Events
	S3           *S3
	ELB          *ELB
	SQS          *SQS
	Kinesis      *Kinesis
	Gateway      *Gateway
	Domains      *Domains
	Certificates *Certificates
	Topics       *Topics
}

// New returns an empty cloud.
func New(region, account string) *Cloud {
	rec := newRecorder()
	c := &Cloud{Recorder: rec, Region: region, Account: account, Partition: "aws"}
	c.Lambda = newLambda(c)
	c.IAM = newIAM(c)
	c.Logs = newLogs(c)
	c.Events = newEvents(c)
	c.S3 = newS3(c)
	c.ELB = newELB(c)
	c.SQS = newSQS(c)
	c.Kinesis = newKinesis(c)
	c.Gateway = newGateway(c)
	c.Domains = newDomains(c)
	c.Certificates = newCertificates(c)
	c.Topics = newTopics(c)
	return c
}

// Clients exposes the cloud through the provider interfaces.
func (c *Cloud) Clients() *provider.Clients {
	return &provider.Clients{
		Region:       c.Region,
		Lambda:       c.Lambda,
		IAM:          c.IAM,
		Logs:         c.Logs,
		Events:       c.Events,
		S3:           c.S3,
		ELB:          c.ELB,
		SQS:          c.SQS,
		Kinesis:      c.Kinesis,
		Gateway:      c.Gateway,
		Domains:      c.Domains,
		Certificates: c.Certificates,
		Topics:       c.Topics,
	}
}

func (c *Cloud) arn(service, resource string) string {
	return fmt.Sprintf("arn:%s:%s:%s:%s:%s", c.Partition, service, c.Region, c.Account, resource)
}

func notFound(format string, args ...any) error {
	return provider.NewError("NotFoundException", format, args...)
}

func resourceNotFound(format string, args ...any) error {
	return provider.NewError("ResourceNotFoundException", format, args...)
}

func conflict(code, format string, args ...any) error {
	return provider.NewError(code, format, args...)
}

// ids hands out sequential identifiers per prefix.
type ids struct {
	mu   sync.Mutex
	next map[string]int
}

func (g *ids) new(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next == nil {
		g.next = make(map[string]int)
	}
	g.next[prefix]++
	return fmt.Sprintf("%s%04d", prefix, g.next[prefix])
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
