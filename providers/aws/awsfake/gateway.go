package awsfake

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

type apiMethod struct {
	authorization  string
	apiKeyRequired bool
	integration    *types.Integration
}

type apiResource struct {
	id, parentID, path, pathPart string
	methods                      map[string]*apiMethod
}

type restAPI struct {
	api       types.RestApi
	rootID    string
	resources map[string]*apiResource
	stages    map[string]string
}

// Gateway is the fake REST API service.
type Gateway struct {
	cloud *Cloud
	mu    sync.Mutex
	ids   ids

	apis     map[string]*restAPI
	plans    map[string]*types.UsagePlan
	keys     map[string]*types.ApiKey
	planKeys map[string]map[string]bool
}

var _ provider.GatewayAPI = (*Gateway)(nil)

func newGateway(c *Cloud) *Gateway {
	return &Gateway{
		cloud:    c,
		apis:     make(map[string]*restAPI),
		plans:    make(map[string]*types.UsagePlan),
		keys:     make(map[string]*types.ApiKey),
		planKeys: make(map[string]map[string]bool),
	}
}

// SeedAPI installs a REST API created outside fnstack and returns its id.
func (f *Gateway) SeedAPI(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return aws.ToString(f.newAPI(name, "").api.Id)
}

// SeedStage creates a stage on an API as if deployed outside fnstack.
func (f *Gateway) SeedStage(apiID, stage string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.apis[apiID]; ok {
		a.stages[stage] = f.ids.new("dep")
	}
}

// SeedRoute creates path resources and a method on an API.
func (f *Gateway) SeedRoute(apiID, path, method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.apis[apiID]
	parent := a.resources[a.rootID]
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		next := parent.path + "/" + part
		if parent.path == "/" {
			next = "/" + part
		}
		var found *apiResource
		for _, r := range a.resources {
			if r.path == next {
				found = r
			}
		}
		if found == nil {
			found = f.newResource(a, parent, part)
		}
		parent = found
	}
	parent.methods[strings.ToUpper(method)] = &apiMethod{authorization: "NONE"}
}

// APIs returns the ids of every REST API.
func (f *Gateway) APIs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.apis)
}

// Paths returns every resource path of an API with its methods.
func (f *Gateway) Paths(apiID string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apis[apiID]
	if !ok {
		return nil
	}
	out := make(map[string][]string)
	for _, r := range a.resources {
		out[r.path] = sortedKeys(r.methods)
	}
	return out
}

// Stages returns the stage names of an API.
func (f *Gateway) Stages(apiID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.apis[apiID]; ok {
		return sortedKeys(a.stages)
	}
	return nil
}

// UsagePlans returns a copy of every usage plan keyed by id.
func (f *Gateway) UsagePlans() map[string]types.UsagePlan {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]types.UsagePlan)
	for id, p := range f.plans {
		out[id] = *p
	}
	return out
}

// APIKeys returns the ids of every API key.
func (f *Gateway) APIKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.keys)
}

// PlanKeys returns the key ids linked to a plan.
func (f *Gateway) PlanKeys(planID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.planKeys[planID])
}

func (f *Gateway) newAPI(name, description string) *restAPI {
	id := f.ids.new("api")
	a := &restAPI{
		api: types.RestApi{
			Id:          aws.String(id),
			Name:        aws.String(name),
			CreatedDate: aws.Time(time.Now()),
		},
		resources: make(map[string]*apiResource),
		stages:    make(map[string]string),
	}
	if description != "" {
		a.api.Description = aws.String(description)
	}
	root := &apiResource{id: f.ids.new("res"), path: "/", methods: map[string]*apiMethod{}}
	a.rootID = root.id
	a.resources[root.id] = root
	f.apis[id] = a
	return a
}

func (f *Gateway) newResource(a *restAPI, parent *apiResource, part string) *apiResource {
	path := parent.path + "/" + part
	if parent.path == "/" {
		path = "/" + part
	}
	r := &apiResource{id: f.ids.new("res"), parentID: parent.id, path: path, pathPart: part, methods: map[string]*apiMethod{}}
	a.resources[r.id] = r
	return r
}

func (f *Gateway) api(id *string) (*restAPI, error) {
	a, ok := f.apis[aws.ToString(id)]
	if !ok {
		return nil, notFound("Invalid API identifier specified %s:%s", f.cloud.Account, aws.ToString(id))
	}
	return a, nil
}

func (f *Gateway) resource(apiID, resourceID *string) (*restAPI, *apiResource, error) {
	a, err := f.api(apiID)
	if err != nil {
		return nil, nil, err
	}
	r, ok := a.resources[aws.ToString(resourceID)]
	if !ok {
		return nil, nil, notFound("Invalid Resource identifier specified")
	}
	return a, r, nil
}

func (f *Gateway) method(in struct{ api, res, method *string }) (*apiMethod, error) {
	_, r, err := f.resource(in.api, in.res)
	if err != nil {
		return nil, err
	}
	m, ok := r.methods[aws.ToString(in.method)]
	if !ok {
		return nil, notFound("Invalid Method identifier specified")
	}
	return m, nil
}

func (f *Gateway) GetRestApi(_ context.Context, in *apigateway.GetRestApiInput, _ ...func(*apigateway.Options)) (*apigateway.GetRestApiOutput, error) {
	if err := f.cloud.call("apigateway.GetRestApi"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.api(in.RestApiId)
	if err != nil {
		return nil, err
	}
	return &apigateway.GetRestApiOutput{Id: a.api.Id, Name: a.api.Name, Description: a.api.Description, CreatedDate: a.api.CreatedDate}, nil
}

func (f *Gateway) GetRestApis(_ context.Context, _ *apigateway.GetRestApisInput, _ ...func(*apigateway.Options)) (*apigateway.GetRestApisOutput, error) {
	if err := f.cloud.call("apigateway.GetRestApis"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &apigateway.GetRestApisOutput{}
	for _, id := range sortedKeys(f.apis) {
		out.Items = append(out.Items, f.apis[id].api)
	}
	return out, nil
}

func (f *Gateway) CreateRestApi(_ context.Context, in *apigateway.CreateRestApiInput, _ ...func(*apigateway.Options)) (*apigateway.CreateRestApiOutput, error) {
	if err := f.cloud.call("apigateway.CreateRestApi"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.newAPI(aws.ToString(in.Name), aws.ToString(in.Description))
	return &apigateway.CreateRestApiOutput{Id: a.api.Id, Name: a.api.Name, Description: a.api.Description, CreatedDate: a.api.CreatedDate}, nil
}

func (f *Gateway) UpdateRestApi(_ context.Context, in *apigateway.UpdateRestApiInput, _ ...func(*apigateway.Options)) (*apigateway.UpdateRestApiOutput, error) {
	if err := f.cloud.call("apigateway.UpdateRestApi"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.api(in.RestApiId)
	if err != nil {
		return nil, err
	}
	for _, op := range in.PatchOperations {
		switch aws.ToString(op.Path) {
		case "/description":
			a.api.Description = op.Value
		case "/name":
			a.api.Name = op.Value
		}
	}
	return &apigateway.UpdateRestApiOutput{Id: a.api.Id, Name: a.api.Name, Description: a.api.Description}, nil
}

func (f *Gateway) DeleteRestApi(_ context.Context, in *apigateway.DeleteRestApiInput, _ ...func(*apigateway.Options)) (*apigateway.DeleteRestApiOutput, error) {
	if err := f.cloud.call("apigateway.DeleteRestApi"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.api(in.RestApiId); err != nil {
		return nil, err
	}
	delete(f.apis, aws.ToString(in.RestApiId))
	return &apigateway.DeleteRestApiOutput{}, nil
}

func (f *Gateway) GetResources(_ context.Context, in *apigateway.GetResourcesInput, _ ...func(*apigateway.Options)) (*apigateway.GetResourcesOutput, error) {
	if err := f.cloud.call("apigateway.GetResources"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.api(in.RestApiId)
	if err != nil {
		return nil, err
	}
	out := &apigateway.GetResourcesOutput{}
	for _, id := range sortedKeys(a.resources) {
		r := a.resources[id]
		item := types.Resource{Id: aws.String(r.id), Path: aws.String(r.path)}
		if r.parentID != "" {
			item.ParentId = aws.String(r.parentID)
			item.PathPart = aws.String(r.pathPart)
		}
		if len(r.methods) > 0 {
			item.ResourceMethods = make(map[string]types.Method)
			for name, m := range r.methods {
				item.ResourceMethods[name] = types.Method{
					HttpMethod:        aws.String(name),
					AuthorizationType: aws.String(m.authorization),
					ApiKeyRequired:    aws.Bool(m.apiKeyRequired),
				}
			}
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (f *Gateway) CreateResource(_ context.Context, in *apigateway.CreateResourceInput, _ ...func(*apigateway.Options)) (*apigateway.CreateResourceOutput, error) {
	if err := f.cloud.call("apigateway.CreateResource"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, parent, err := f.resource(in.RestApiId, in.ParentId)
	if err != nil {
		return nil, err
	}
	for _, r := range a.resources {
		if r.parentID == parent.id && r.pathPart == aws.ToString(in.PathPart) {
			return nil, conflict("ConflictException", "Another resource with the same parent already has this name: %s", r.pathPart)
		}
	}
	r := f.newResource(a, parent, aws.ToString(in.PathPart))
	return &apigateway.CreateResourceOutput{
		Id:       aws.String(r.id),
		ParentId: aws.String(r.parentID),
		Path:     aws.String(r.path),
		PathPart: aws.String(r.pathPart),
	}, nil
}

func (f *Gateway) DeleteResource(_ context.Context, in *apigateway.DeleteResourceInput, _ ...func(*apigateway.Options)) (*apigateway.DeleteResourceOutput, error) {
	if err := f.cloud.call("apigateway.DeleteResource"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, r, err := f.resource(in.RestApiId, in.ResourceId)
	if err != nil {
		return nil, err
	}
	for id, other := range a.resources {
		if other.path == r.path || strings.HasPrefix(other.path, r.path+"/") {
			delete(a.resources, id)
		}
	}
	return &apigateway.DeleteResourceOutput{}, nil
}

func (f *Gateway) methodOutput(m *apiMethod, name string) (*string, *string, *bool, *types.Integration) {
	var integ *types.Integration
	if m.integration != nil {
		cp := *m.integration
		integ = &cp
	}
	return aws.String(name), aws.String(m.authorization), aws.Bool(m.apiKeyRequired), integ
}

func (f *Gateway) GetMethod(_ context.Context, in *apigateway.GetMethodInput, _ ...func(*apigateway.Options)) (*apigateway.GetMethodOutput, error) {
	if err := f.cloud.call("apigateway.GetMethod"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.method(struct{ api, res, method *string }{in.RestApiId, in.ResourceId, in.HttpMethod})
	if err != nil {
		return nil, err
	}
	name, auth, keyReq, integ := f.methodOutput(m, aws.ToString(in.HttpMethod))
	return &apigateway.GetMethodOutput{HttpMethod: name, AuthorizationType: auth, ApiKeyRequired: keyReq, MethodIntegration: integ}, nil
}

func (f *Gateway) PutMethod(_ context.Context, in *apigateway.PutMethodInput, _ ...func(*apigateway.Options)) (*apigateway.PutMethodOutput, error) {
	if err := f.cloud.call("apigateway.PutMethod"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, r, err := f.resource(in.RestApiId, in.ResourceId)
	if err != nil {
		return nil, err
	}
	name := aws.ToString(in.HttpMethod)
	if _, ok := r.methods[name]; ok {
		return nil, conflict("ConflictException", "Method already exists for this resource")
	}
	m := &apiMethod{authorization: aws.ToString(in.AuthorizationType), apiKeyRequired: in.ApiKeyRequired}
	r.methods[name] = m
	hm, auth, keyReq, _ := f.methodOutput(m, name)
	return &apigateway.PutMethodOutput{HttpMethod: hm, AuthorizationType: auth, ApiKeyRequired: keyReq}, nil
}

func (f *Gateway) UpdateMethod(_ context.Context, in *apigateway.UpdateMethodInput, _ ...func(*apigateway.Options)) (*apigateway.UpdateMethodOutput, error) {
	if err := f.cloud.call("apigateway.UpdateMethod"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.method(struct{ api, res, method *string }{in.RestApiId, in.ResourceId, in.HttpMethod})
	if err != nil {
		return nil, err
	}
	for _, op := range in.PatchOperations {
		switch aws.ToString(op.Path) {
		case "/authorizationType":
			m.authorization = aws.ToString(op.Value)
		case "/apiKeyRequired":
			m.apiKeyRequired = aws.ToString(op.Value) == "true"
		}
	}
	hm, auth, keyReq, integ := f.methodOutput(m, aws.ToString(in.HttpMethod))
	return &apigateway.UpdateMethodOutput{HttpMethod: hm, AuthorizationType: auth, ApiKeyRequired: keyReq, MethodIntegration: integ}, nil
}

func (f *Gateway) DeleteMethod(_ context.Context, in *apigateway.DeleteMethodInput, _ ...func(*apigateway.Options)) (*apigateway.DeleteMethodOutput, error) {
	if err := f.cloud.call("apigateway.DeleteMethod"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, r, err := f.resource(in.RestApiId, in.ResourceId)
	if err != nil {
		return nil, err
	}
	name := aws.ToString(in.HttpMethod)
	if _, ok := r.methods[name]; !ok {
		return nil, notFound("Invalid Method identifier specified")
	}
	delete(r.methods, name)
	return &apigateway.DeleteMethodOutput{}, nil
}

func (f *Gateway) PutIntegration(_ context.Context, in *apigateway.PutIntegrationInput, _ ...func(*apigateway.Options)) (*apigateway.PutIntegrationOutput, error) {
	if err := f.cloud.call("apigateway.PutIntegration"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.method(struct{ api, res, method *string }{in.RestApiId, in.ResourceId, in.HttpMethod})
	if err != nil {
		return nil, err
	}
	m.integration = &types.Integration{Type: in.Type, Uri: in.Uri, HttpMethod: in.IntegrationHttpMethod}
	return &apigateway.PutIntegrationOutput{Type: in.Type, Uri: in.Uri, HttpMethod: in.IntegrationHttpMethod}, nil
}

func (f *Gateway) GetStage(_ context.Context, in *apigateway.GetStageInput, _ ...func(*apigateway.Options)) (*apigateway.GetStageOutput, error) {
	if err := f.cloud.call("apigateway.GetStage"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.api(in.RestApiId)
	if err != nil {
		return nil, err
	}
	dep, ok := a.stages[aws.ToString(in.StageName)]
	if !ok {
		return nil, notFound("Invalid Stage identifier specified")
	}
	return &apigateway.GetStageOutput{StageName: in.StageName, DeploymentId: aws.String(dep)}, nil
}

func (f *Gateway) DeleteStage(_ context.Context, in *apigateway.DeleteStageInput, _ ...func(*apigateway.Options)) (*apigateway.DeleteStageOutput, error) {
	if err := f.cloud.call("apigateway.DeleteStage"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.api(in.RestApiId)
	if err != nil {
		return nil, err
	}
	if _, ok := a.stages[aws.ToString(in.StageName)]; !ok {
		return nil, notFound("Invalid Stage identifier specified")
	}
	delete(a.stages, aws.ToString(in.StageName))
	return &apigateway.DeleteStageOutput{}, nil
}

func (f *Gateway) CreateDeployment(_ context.Context, in *apigateway.CreateDeploymentInput, _ ...func(*apigateway.Options)) (*apigateway.CreateDeploymentOutput, error) {
	if err := f.cloud.call("apigateway.CreateDeployment"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, err := f.api(in.RestApiId)
	if err != nil {
		return nil, err
	}
	methods := 0
	for _, r := range a.resources {
		methods += len(r.methods)
	}
	if methods == 0 {
		return nil, provider.NewError("BadRequestException", "The REST API doesn't contain any methods")
	}
	id := f.ids.new("dep")
	if in.StageName != nil {
		a.stages[aws.ToString(in.StageName)] = id
	}
	return &apigateway.CreateDeploymentOutput{Id: aws.String(id), Description: in.Description, CreatedDate: aws.Time(time.Now())}, nil
}

func (f *Gateway) plan(id *string) (*types.UsagePlan, error) {
	p, ok := f.plans[aws.ToString(id)]
	if !ok {
		return nil, notFound("Invalid Usage Plan ID specified")
	}
	return p, nil
}

func (f *Gateway) GetUsagePlan(_ context.Context, in *apigateway.GetUsagePlanInput, _ ...func(*apigateway.Options)) (*apigateway.GetUsagePlanOutput, error) {
	if err := f.cloud.call("apigateway.GetUsagePlan"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.plan(in.UsagePlanId)
	if err != nil {
		return nil, err
	}
	return &apigateway.GetUsagePlanOutput{
		Id: p.Id, Name: p.Name, Description: p.Description,
		ApiStages: append([]types.ApiStage(nil), p.ApiStages...), Throttle: p.Throttle, Quota: p.Quota,
	}, nil
}

func (f *Gateway) GetUsagePlans(_ context.Context, _ *apigateway.GetUsagePlansInput, _ ...func(*apigateway.Options)) (*apigateway.GetUsagePlansOutput, error) {
	if err := f.cloud.call("apigateway.GetUsagePlans"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &apigateway.GetUsagePlansOutput{}
	for _, id := range sortedKeys(f.plans) {
		out.Items = append(out.Items, *f.plans[id])
	}
	return out, nil
}

func (f *Gateway) CreateUsagePlan(_ context.Context, in *apigateway.CreateUsagePlanInput, _ ...func(*apigateway.Options)) (*apigateway.CreateUsagePlanOutput, error) {
	if err := f.cloud.call("apigateway.CreateUsagePlan"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range in.ApiStages {
		a, err := f.api(s.ApiId)
		if err != nil {
			return nil, err
		}
		if _, ok := a.stages[aws.ToString(s.Stage)]; !ok {
			return nil, notFound("Invalid stage identifier specified")
		}
	}
	p := &types.UsagePlan{
		Id:          aws.String(f.ids.new("plan")),
		Name:        in.Name,
		Description: in.Description,
		ApiStages:   append([]types.ApiStage(nil), in.ApiStages...),
		Throttle:    in.Throttle,
		Quota:       in.Quota,
	}
	f.plans[aws.ToString(p.Id)] = p
	f.planKeys[aws.ToString(p.Id)] = map[string]bool{}
	return &apigateway.CreateUsagePlanOutput{
		Id: p.Id, Name: p.Name, Description: p.Description,
		ApiStages: p.ApiStages, Throttle: p.Throttle, Quota: p.Quota,
	}, nil
}

func (f *Gateway) UpdateUsagePlan(_ context.Context, in *apigateway.UpdateUsagePlanInput, _ ...func(*apigateway.Options)) (*apigateway.UpdateUsagePlanOutput, error) {
	if err := f.cloud.call("apigateway.UpdateUsagePlan"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, err := f.plan(in.UsagePlanId)
	if err != nil {
		return nil, err
	}
	for _, op := range in.PatchOperations {
		path, value := aws.ToString(op.Path), aws.ToString(op.Value)
		switch {
		case path == "/apiStages" && op.Op == types.OpAdd:
			apiID, stage, _ := strings.Cut(value, ":")
			p.ApiStages = append(p.ApiStages, types.ApiStage{ApiId: aws.String(apiID), Stage: aws.String(stage)})
		case path == "/apiStages" && op.Op == types.OpRemove:
			kept := p.ApiStages[:0]
			for _, s := range p.ApiStages {
				if aws.ToString(s.ApiId)+":"+aws.ToString(s.Stage) != value {
					kept = append(kept, s)
				}
			}
			p.ApiStages = kept
		case path == "/name":
			p.Name = aws.String(value)
		case path == "/description":
			p.Description = aws.String(value)
		case strings.HasPrefix(path, "/throttle/"):
			if p.Throttle == nil {
				p.Throttle = &types.ThrottleSettings{}
			}
			if path == "/throttle/rateLimit" {
				p.Throttle.RateLimit, _ = strconv.ParseFloat(value, 64)
			} else {
				n, _ := strconv.Atoi(value)
				p.Throttle.BurstLimit = int32(n)
			}
		case strings.HasPrefix(path, "/quota/"):
			if p.Quota == nil {
				p.Quota = &types.QuotaSettings{}
			}
			if path == "/quota/period" {
				p.Quota.Period = types.QuotaPeriodType(value)
			} else {
				n, _ := strconv.Atoi(value)
				p.Quota.Limit = int32(n)
			}
		}
	}
	return &apigateway.UpdateUsagePlanOutput{
		Id: p.Id, Name: p.Name, Description: p.Description,
		ApiStages: p.ApiStages, Throttle: p.Throttle, Quota: p.Quota,
	}, nil
}

func (f *Gateway) DeleteUsagePlan(_ context.Context, in *apigateway.DeleteUsagePlanInput, _ ...func(*apigateway.Options)) (*apigateway.DeleteUsagePlanOutput, error) {
	if err := f.cloud.call("apigateway.DeleteUsagePlan"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.plan(in.UsagePlanId); err != nil {
		return nil, err
	}
	delete(f.plans, aws.ToString(in.UsagePlanId))
	delete(f.planKeys, aws.ToString(in.UsagePlanId))
	return &apigateway.DeleteUsagePlanOutput{}, nil
}

func (f *Gateway) GetApiKey(_ context.Context, in *apigateway.GetApiKeyInput, _ ...func(*apigateway.Options)) (*apigateway.GetApiKeyOutput, error) {
	if err := f.cloud.call("apigateway.GetApiKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[aws.ToString(in.ApiKey)]
	if !ok {
		return nil, notFound("Invalid API Key identifier specified")
	}
	return &apigateway.GetApiKeyOutput{Id: k.Id, Name: k.Name, Description: k.Description, Enabled: k.Enabled}, nil
}

func (f *Gateway) GetApiKeys(_ context.Context, in *apigateway.GetApiKeysInput, _ ...func(*apigateway.Options)) (*apigateway.GetApiKeysOutput, error) {
	if err := f.cloud.call("apigateway.GetApiKeys"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &apigateway.GetApiKeysOutput{}
	for _, id := range sortedKeys(f.keys) {
		k := f.keys[id]
		if strings.HasPrefix(aws.ToString(k.Name), aws.ToString(in.NameQuery)) {
			cp := *k
			cp.Value = nil
			out.Items = append(out.Items, cp)
		}
	}
	return out, nil
}

func (f *Gateway) CreateApiKey(_ context.Context, in *apigateway.CreateApiKeyInput, _ ...func(*apigateway.Options)) (*apigateway.CreateApiKeyOutput, error) {
	if err := f.cloud.call("apigateway.CreateApiKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.ids.new("key")
	k := &types.ApiKey{
		Id:          aws.String(id),
		Name:        in.Name,
		Description: in.Description,
		Enabled:     in.Enabled,
		Value:       aws.String("secret-" + id),
	}
	f.keys[id] = k
	return &apigateway.CreateApiKeyOutput{Id: k.Id, Name: k.Name, Description: k.Description, Enabled: k.Enabled, Value: k.Value}, nil
}

func (f *Gateway) UpdateApiKey(_ context.Context, in *apigateway.UpdateApiKeyInput, _ ...func(*apigateway.Options)) (*apigateway.UpdateApiKeyOutput, error) {
	if err := f.cloud.call("apigateway.UpdateApiKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[aws.ToString(in.ApiKey)]
	if !ok {
		return nil, notFound("Invalid API Key identifier specified")
	}
	for _, op := range in.PatchOperations {
		switch aws.ToString(op.Path) {
		case "/description":
			k.Description = op.Value
		case "/enabled":
			k.Enabled = aws.ToString(op.Value) == "true"
		}
	}
	return &apigateway.UpdateApiKeyOutput{Id: k.Id, Name: k.Name, Description: k.Description, Enabled: k.Enabled}, nil
}

func (f *Gateway) DeleteApiKey(_ context.Context, in *apigateway.DeleteApiKeyInput, _ ...func(*apigateway.Options)) (*apigateway.DeleteApiKeyOutput, error) {
	if err := f.cloud.call("apigateway.DeleteApiKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.ApiKey)
	if _, ok := f.keys[id]; !ok {
		return nil, notFound("Invalid API Key identifier specified")
	}
	delete(f.keys, id)
	for _, linked := range f.planKeys {
		delete(linked, id)
	}
	return &apigateway.DeleteApiKeyOutput{}, nil
}

func (f *Gateway) GetUsagePlanKeys(_ context.Context, in *apigateway.GetUsagePlanKeysInput, _ ...func(*apigateway.Options)) (*apigateway.GetUsagePlanKeysOutput, error) {
	if err := f.cloud.call("apigateway.GetUsagePlanKeys"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	linked, ok := f.planKeys[aws.ToString(in.UsagePlanId)]
	if !ok {
		return nil, notFound("Invalid Usage Plan ID specified")
	}
	out := &apigateway.GetUsagePlanKeysOutput{}
	for _, id := range sortedKeys(linked) {
		out.Items = append(out.Items, types.UsagePlanKey{Id: aws.String(id), Name: f.keys[id].Name, Type: aws.String("API_KEY")})
	}
	return out, nil
}

func (f *Gateway) CreateUsagePlanKey(_ context.Context, in *apigateway.CreateUsagePlanKeyInput, _ ...func(*apigateway.Options)) (*apigateway.CreateUsagePlanKeyOutput, error) {
	if err := f.cloud.call("apigateway.CreateUsagePlanKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	linked, ok := f.planKeys[aws.ToString(in.UsagePlanId)]
	if !ok {
		return nil, notFound("Invalid Usage Plan ID specified")
	}
	id := aws.ToString(in.KeyId)
	k, ok := f.keys[id]
	if !ok {
		return nil, notFound("Invalid API Key identifier specified")
	}
	if linked[id] {
		return nil, conflict("ConflictException", "Usage Plan %s cannot be added because API Key %s already exists", aws.ToString(in.UsagePlanId), id)
	}
	linked[id] = true
	return &apigateway.CreateUsagePlanKeyOutput{Id: aws.String(id), Name: k.Name, Type: in.KeyType}, nil
}

func (f *Gateway) DeleteUsagePlanKey(_ context.Context, in *apigateway.DeleteUsagePlanKeyInput, _ ...func(*apigateway.Options)) (*apigateway.DeleteUsagePlanKeyOutput, error) {
	if err := f.cloud.call("apigateway.DeleteUsagePlanKey"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	linked, ok := f.planKeys[aws.ToString(in.UsagePlanId)]
	if !ok || !linked[aws.ToString(in.KeyId)] {
		return nil, notFound("Invalid Usage Plan Key specified")
	}
	delete(linked, aws.ToString(in.KeyId))
	return &apigateway.DeleteUsagePlanKeyOutput{}, nil
}
