package ir

import "strings"

// Spec is the declarative description of one function and everything that
// hangs off it. It is immutable input to a single deploy.
type Spec struct {
	Name             string            `json:"name" pkl:"name" validate:"required,max=64"`
	Region           string            `json:"region,omitempty" pkl:"region"`
	Description      string            `json:"description,omitempty" pkl:"description"`
	Runtime          string            `json:"runtime" pkl:"runtime" validate:"required"`
	Handler          string            `json:"handler" pkl:"handler" validate:"required"`
	Role             string            `json:"role,omitempty" pkl:"role"`
	MemorySize       int32             `json:"memorySize,omitempty" pkl:"memorySize" validate:"omitempty,min=128,max=10240"`
	Timeout          int32             `json:"timeout,omitempty" pkl:"timeout" validate:"omitempty,min=1,max=900"`
	Environment      map[string]string `json:"environment,omitempty" pkl:"environment"`
	Layers           []string          `json:"layers,omitempty" pkl:"layers"`
	Tracing          string            `json:"tracing,omitempty" pkl:"tracing" validate:"omitempty,oneof=Active PassThrough"`
	Code             CodeSpec          `json:"code" pkl:"code"`
	LogRetentionDays int32             `json:"logRetentionDays,omitempty" pkl:"logRetentionDays"`
	Tags             []Tag             `json:"tags,omitempty" pkl:"tags" validate:"dive"`
	Triggers         []TriggerSpec     `json:"triggers,omitempty" pkl:"triggers" validate:"dive"`
}

// CodeSpec points at the deployment package: a local zip or directory, or
// an object already uploaded to S3.
type CodeSpec struct {
	Path     string `json:"path,omitempty" pkl:"path"`
	S3Bucket string `json:"s3Bucket,omitempty" pkl:"s3Bucket"`
	S3Key    string `json:"s3Key,omitempty" pkl:"s3Key"`
}

// Tag is one key/value pair of function metadata.
type Tag struct {
	Key   string `json:"key" pkl:"key" validate:"required,max=128"`
	Value string `json:"value" pkl:"value" validate:"max=256"`
}

// TagMap flattens a tag list; later duplicates win.
func TagMap(tags []Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		m[t.Key] = t.Value
	}
	return m
}

// Trigger kinds understood by the adapter set.
const (
	TriggerTimer        = "timer"
	TriggerStorage      = "storage"
	TriggerLogs         = "logs"
	TriggerLoadBalancer = "loadbalancer"
	TriggerQueue        = "queue"
	TriggerGateway      = "gateway"
	TriggerTopic        = "topic"
)

// TriggerSpec declares one event source bound to the function. Exactly one
// of the kind-specific blocks is set, matching Kind.
type TriggerSpec struct {
	Kind     string `json:"kind" pkl:"kind" validate:"required,oneof=timer storage logs loadbalancer queue gateway topic"`
	Name     string `json:"name" pkl:"name" validate:"required,max=48"`
	Enabled  *bool  `json:"enabled,omitempty" pkl:"enabled"`
	Argument string `json:"argument,omitempty" pkl:"argument"`

	Timer        *TimerSpec        `json:"timer,omitempty" pkl:"timer"`
	Storage      *StorageSpec      `json:"storage,omitempty" pkl:"storage"`
	Logs         *LogsSpec         `json:"logs,omitempty" pkl:"logs"`
	LoadBalancer *LoadBalancerSpec `json:"loadBalancer,omitempty" pkl:"loadBalancer"`
	Queue        *QueueSpec        `json:"queue,omitempty" pkl:"queue"`
	Gateway      *GatewaySpec      `json:"gateway,omitempty" pkl:"gateway"`
	Topic        *TopicSpec        `json:"topic,omitempty" pkl:"topic"`
}

// IsEnabled reports the effective enabled flag; triggers default to on.
func (t TriggerSpec) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

type TimerSpec struct {
	Schedule string `json:"schedule" pkl:"schedule" validate:"required"`
}

type StorageSpec struct {
	Bucket string   `json:"bucket" pkl:"bucket" validate:"required"`
	Events []string `json:"events" pkl:"events" validate:"required,min=1"`
	Prefix string   `json:"prefix,omitempty" pkl:"prefix"`
	Suffix string   `json:"suffix,omitempty" pkl:"suffix"`
}

type LogsSpec struct {
	LogGroup      string `json:"logGroup" pkl:"logGroup" validate:"required"`
	FilterPattern string `json:"filterPattern,omitempty" pkl:"filterPattern"`
}

type LoadBalancerSpec struct {
	ListenerArn string `json:"listenerArn" pkl:"listenerArn" validate:"required"`
	Priority    int32  `json:"priority" pkl:"priority" validate:"required,min=1,max=50000"`
	PathPattern string `json:"pathPattern,omitempty" pkl:"pathPattern"`
	Host        string `json:"host,omitempty" pkl:"host"`
}

// TopicSpec subscribes the function to a notification topic, given by
// name or ARN.
type TopicSpec struct {
	Topic        string `json:"topic" pkl:"topic" validate:"required"`
	FilterPolicy string `json:"filterPolicy,omitempty" pkl:"filterPolicy" validate:"omitempty,json"`
}

// QueueSpec binds a message source. Exactly one of Queue (SQS queue name)
// or Stream (Kinesis stream name) is set.
type QueueSpec struct {
	Queue            string `json:"queue,omitempty" pkl:"queue"`
	Stream           string `json:"stream,omitempty" pkl:"stream"`
	BatchSize        int32  `json:"batchSize,omitempty" pkl:"batchSize" validate:"omitempty,min=1,max=10000"`
	StartingPosition string `json:"startingPosition,omitempty" pkl:"startingPosition" validate:"omitempty,oneof=LATEST TRIM_HORIZON"`
}

// GatewaySpec is a route on a gateway service. The service, usage plan and
// domains are resolved or created on demand.
type GatewaySpec struct {
	Service        GatewayServiceSpec `json:"service" pkl:"service"`
	Path           string             `json:"path" pkl:"path" validate:"required,startswith=/"`
	Method         string             `json:"method" pkl:"method" validate:"required"`
	Authorization  string             `json:"authorization,omitempty" pkl:"authorization"`
	APIKeyRequired bool               `json:"apiKeyRequired,omitempty" pkl:"apiKeyRequired"`
	UsagePlan      *UsagePlanSpec     `json:"usagePlan,omitempty" pkl:"usagePlan"`
	Domains        []DomainSpec       `json:"domains,omitempty" pkl:"domains" validate:"dive"`
}

// RouteKey is the natural key of the route: upper-cased method and path.
func (g GatewaySpec) RouteKey() string {
	return strings.ToUpper(g.Method) + " " + g.Path
}

type GatewayServiceSpec struct {
	ID          string `json:"id,omitempty" pkl:"id"`
	Name        string `json:"name,omitempty" pkl:"name" validate:"required_without=ID"`
	Description string `json:"description,omitempty" pkl:"description"`
	Stage       string `json:"stage,omitempty" pkl:"stage"`
}

// Key identifies the service inside one deploy: the id when given, the name
// otherwise.
func (s GatewayServiceSpec) Key() string {
	if s.ID != "" {
		return "id:" + s.ID
	}
	return "name:" + s.Name
}

type UsagePlanSpec struct {
	ID          string  `json:"id,omitempty" pkl:"id"`
	Name        string  `json:"name,omitempty" pkl:"name" validate:"required_without=ID"`
	Description string  `json:"description,omitempty" pkl:"description"`
	RateLimit   float64 `json:"rateLimit,omitempty" pkl:"rateLimit"`
	BurstLimit  int32   `json:"burstLimit,omitempty" pkl:"burstLimit"`
	QuotaLimit  int32   `json:"quotaLimit,omitempty" pkl:"quotaLimit"`
	QuotaPeriod string  `json:"quotaPeriod,omitempty" pkl:"quotaPeriod" validate:"omitempty,oneof=DAY WEEK MONTH"`
	APIKey      string  `json:"apiKey,omitempty" pkl:"apiKey"`
}

type DomainSpec struct {
	Domain         string `json:"domain" pkl:"domain" validate:"required,fqdn"`
	BasePath       string `json:"basePath,omitempty" pkl:"basePath"`
	CertificateArn string `json:"certificateArn,omitempty" pkl:"certificateArn"`
}
