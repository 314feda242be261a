package ir

// Kind names the provider entity a Handle points at.
type Kind string

const (
	KindFunction       Kind = "function"
	KindRole           Kind = "role"
	KindLogGroup       Kind = "logGroup"
	KindTrigger        Kind = "trigger"
	KindGatewayService Kind = "gatewayService"
	KindGatewayPath    Kind = "gatewayPath"
	KindRoute          Kind = "route"
	KindDeployment     Kind = "deployment"
	KindUsagePlan      Kind = "usagePlan"
	KindPlanStage      Kind = "usagePlanStage"
	KindSecret         Kind = "secret"
	KindPlanKey        Kind = "usagePlanKey"
	KindDomain         Kind = "domain"
	KindAPIMapping     Kind = "apiMapping"
)

// Handle is the orchestration-level record of one provisioned entity.
// CreatedByUs is the only input teardown trusts when deciding to delete.
type Handle struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Name        string `json:"name,omitempty"`
	CreatedByUs bool   `json:"createdByUs"`
}

// IsZero reports whether h refers to nothing.
func (h Handle) IsZero() bool {
	return h.ID == ""
}

// Inherit keeps the ownership flag of a prior handle for the same entity.
// A handle never loses CreatedByUs across deploys while its id is stable.
func (h Handle) Inherit(prior *Handle) Handle {
	if prior != nil && prior.ID != "" && prior.ID == h.ID && prior.CreatedByUs {
		h.CreatedByUs = true
	}
	return h
}

// Record is the result of a deploy and the prior state of the next one.
// The caller persists it; the engine only reads and returns it.
type Record struct {
	Version     int             `json:"version"`
	Name        string          `json:"name"`
	Region      string          `json:"region"`
	Function    Handle          `json:"function"`
	FunctionArn string          `json:"functionArn,omitempty"`
	CodeSource  string          `json:"codeSource,omitempty"`
	Role        *Handle         `json:"role,omitempty"`
	LogGroup    *Handle         `json:"logGroup,omitempty"`
	Tags        []Tag           `json:"tags"`
	Triggers    []TriggerRecord `json:"triggers"`
	Failures    []Failure       `json:"failures,omitempty"`
	DeployedAt  string          `json:"deployedAt,omitempty"`
}

// RecordVersion is the current layout of Record.
const RecordVersion = 1

// Trigger returns the prior record of the trigger with the given natural
// key, or nil.
func (r *Record) Trigger(kind, name string) *TriggerRecord {
	if r == nil {
		return nil
	}
	for i := range r.Triggers {
		if r.Triggers[i].Kind == kind && r.Triggers[i].Name == name {
			return &r.Triggers[i]
		}
	}
	return nil
}

// TriggerRecord is the outcome of binding one trigger.
type TriggerRecord struct {
	Kind    string         `json:"kind"`
	Name    string         `json:"name"`
	Key     string         `json:"key"`
	Binding Handle         `json:"binding"`
	Enabled bool           `json:"enabled"`
	Gateway *GatewayRecord `json:"gateway,omitempty"`
	Spec    TriggerSpec    `json:"spec"`
}

// GatewayRecord is the nested composite behind a gateway trigger.
type GatewayRecord struct {
	Service    Handle           `json:"service"`
	ServiceKey string           `json:"serviceKey"`
	Stage      string           `json:"stage"`
	Paths      []Handle         `json:"paths,omitempty"`
	Route      Handle           `json:"route"`
	Deployment *Handle          `json:"deployment,omitempty"`
	UsagePlan  *UsagePlanRecord `json:"usagePlan,omitempty"`
	Domains    []DomainRecord   `json:"domains,omitempty"`
	URL        string           `json:"url,omitempty"`

	// Stale holds earlier releases of this route that are not retired yet
	// because the new one never went live.
	Stale []GatewayRecord `json:"stale,omitempty"`
}

type UsagePlanRecord struct {
	Plan  Handle  `json:"plan"`
	Stage Handle  `json:"stage"`
	Key   *Handle `json:"key,omitempty"`
	Link  *Handle `json:"link,omitempty"`
}

type DomainRecord struct {
	Domain  Handle `json:"domain"`
	Mapping Handle `json:"mapping"`
}

// Failure is a recoverable error recorded during deploy.
type Failure struct {
	Phase   string `json:"phase"`
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
