package awsfake

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

type domain struct {
	configs  []types.DomainNameConfiguration
	mappings map[string]*types.ApiMapping
}

// Domains is the fake custom domain service.
type Domains struct {
	cloud   *Cloud
	mu      sync.Mutex
	ids     ids
	domains map[string]*domain
}

var _ provider.DomainAPI = (*Domains)(nil)

func newDomains(c *Cloud) *Domains {
	return &Domains{cloud: c, domains: make(map[string]*domain)}
}

// Names returns every registered domain name.
func (f *Domains) Names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedKeys(f.domains)
}

// Mappings returns the mappings of a domain keyed by base path.
func (f *Domains) Mappings(name string) map[string]types.ApiMapping {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.domains[name]
	if !ok {
		return nil
	}
	out := make(map[string]types.ApiMapping)
	for _, m := range d.mappings {
		out[aws.ToString(m.ApiMappingKey)] = *m
	}
	return out
}

func (f *Domains) domain(name *string) (*domain, error) {
	d, ok := f.domains[aws.ToString(name)]
	if !ok {
		return nil, notFound("Invalid domain name identifier specified")
	}
	return d, nil
}

func (f *Domains) GetDomainName(_ context.Context, in *apigatewayv2.GetDomainNameInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.GetDomainNameOutput, error) {
	if err := f.cloud.call("apigatewayv2.GetDomainName"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.domain(in.DomainName)
	if err != nil {
		return nil, err
	}
	return &apigatewayv2.GetDomainNameOutput{
		DomainName:               in.DomainName,
		DomainNameConfigurations: append([]types.DomainNameConfiguration(nil), d.configs...),
	}, nil
}

func (f *Domains) CreateDomainName(_ context.Context, in *apigatewayv2.CreateDomainNameInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateDomainNameOutput, error) {
	if err := f.cloud.call("apigatewayv2.CreateDomainName"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.DomainName)
	if _, ok := f.domains[name]; ok {
		return nil, conflict("ConflictException", "The domain name you provided already exists.")
	}
	d := &domain{mappings: make(map[string]*types.ApiMapping)}
	for _, c := range in.DomainNameConfigurations {
		c.ApiGatewayDomainName = aws.String("d-" + f.ids.new("gw") + ".execute-api." + f.cloud.Region + ".amazonaws.com")
		c.DomainNameStatus = types.DomainNameStatusAvailable
		d.configs = append(d.configs, c)
	}
	f.domains[name] = d
	return &apigatewayv2.CreateDomainNameOutput{DomainName: in.DomainName, DomainNameConfigurations: d.configs}, nil
}

func (f *Domains) UpdateDomainName(_ context.Context, in *apigatewayv2.UpdateDomainNameInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateDomainNameOutput, error) {
	if err := f.cloud.call("apigatewayv2.UpdateDomainName"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.domain(in.DomainName)
	if err != nil {
		return nil, err
	}
	for i, c := range in.DomainNameConfigurations {
		if i < len(d.configs) {
			c.ApiGatewayDomainName = d.configs[i].ApiGatewayDomainName
		}
		c.DomainNameStatus = types.DomainNameStatusAvailable
		if i < len(d.configs) {
			d.configs[i] = c
		} else {
			d.configs = append(d.configs, c)
		}
	}
	return &apigatewayv2.UpdateDomainNameOutput{DomainName: in.DomainName, DomainNameConfigurations: d.configs}, nil
}

func (f *Domains) DeleteDomainName(_ context.Context, in *apigatewayv2.DeleteDomainNameInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.DeleteDomainNameOutput, error) {
	if err := f.cloud.call("apigatewayv2.DeleteDomainName"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.domain(in.DomainName); err != nil {
		return nil, err
	}
	delete(f.domains, aws.ToString(in.DomainName))
	return &apigatewayv2.DeleteDomainNameOutput{}, nil
}

func (f *Domains) GetApiMappings(_ context.Context, in *apigatewayv2.GetApiMappingsInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.GetApiMappingsOutput, error) {
	if err := f.cloud.call("apigatewayv2.GetApiMappings"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.domain(in.DomainName)
	if err != nil {
		return nil, err
	}
	out := &apigatewayv2.GetApiMappingsOutput{}
	for _, id := range sortedKeys(d.mappings) {
		out.Items = append(out.Items, *d.mappings[id])
	}
	return out, nil
}

func (f *Domains) CreateApiMapping(_ context.Context, in *apigatewayv2.CreateApiMappingInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.CreateApiMappingOutput, error) {
	if err := f.cloud.call("apigatewayv2.CreateApiMapping"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.domain(in.DomainName)
	if err != nil {
		return nil, err
	}
	for _, m := range d.mappings {
		if aws.ToString(m.ApiMappingKey) == aws.ToString(in.ApiMappingKey) {
			return nil, conflict("ConflictException", "Base path already exists for this domain name")
		}
	}
	m := &types.ApiMapping{
		ApiMappingId:  aws.String(f.ids.new("map")),
		ApiId:         in.ApiId,
		Stage:         in.Stage,
		ApiMappingKey: aws.String(aws.ToString(in.ApiMappingKey)),
	}
	d.mappings[aws.ToString(m.ApiMappingId)] = m
	return &apigatewayv2.CreateApiMappingOutput{ApiMappingId: m.ApiMappingId, ApiId: m.ApiId, Stage: m.Stage, ApiMappingKey: m.ApiMappingKey}, nil
}

func (f *Domains) UpdateApiMapping(_ context.Context, in *apigatewayv2.UpdateApiMappingInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.UpdateApiMappingOutput, error) {
	if err := f.cloud.call("apigatewayv2.UpdateApiMapping"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.domain(in.DomainName)
	if err != nil {
		return nil, err
	}
	m, ok := d.mappings[aws.ToString(in.ApiMappingId)]
	if !ok {
		return nil, notFound("Invalid mapping identifier specified")
	}
	if in.ApiId != nil {
		m.ApiId = in.ApiId
	}
	if in.Stage != nil {
		m.Stage = in.Stage
	}
	if in.ApiMappingKey != nil {
		m.ApiMappingKey = in.ApiMappingKey
	}
	return &apigatewayv2.UpdateApiMappingOutput{ApiMappingId: m.ApiMappingId, ApiId: m.ApiId, Stage: m.Stage, ApiMappingKey: m.ApiMappingKey}, nil
}

func (f *Domains) DeleteApiMapping(_ context.Context, in *apigatewayv2.DeleteApiMappingInput, _ ...func(*apigatewayv2.Options)) (*apigatewayv2.DeleteApiMappingOutput, error) {
	if err := f.cloud.call("apigatewayv2.DeleteApiMapping"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, err := f.domain(in.DomainName)
	if err != nil {
		return nil, err
	}
	if _, ok := d.mappings[aws.ToString(in.ApiMappingId)]; !ok {
		return nil, notFound("Invalid mapping identifier specified")
	}
	delete(d.mappings, aws.ToString(in.ApiMappingId))
	return &apigatewayv2.DeleteApiMappingOutput{}, nil
}
