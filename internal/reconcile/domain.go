package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// DomainInput is a custom domain with a resolved certificate.
type DomainInput struct {
	Name           string
	CertificateArn string
}

// DomainState is a custom domain as the gateway reports it.
type DomainState struct {
	Name           string
	CertificateArn string
	Target         string
}

// Domains reconciles custom domain names. Domain names are
// case-insensitive, so the key is lower-cased.
type Domains struct {
	api provider.DomainAPI
}

func NewDomains(api provider.DomainAPI) *Domains { return &Domains{api: api} }

var _ Kind[DomainInput, DomainState] = (*Domains)(nil)

func (d *Domains) Name() ir.Kind { return ir.KindDomain }

func (d *Domains) Key(in DomainInput) string { return strings.ToLower(in.Name) }

func (d *Domains) ID(s DomainState) string { return s.Name }

func (d *Domains) Get(ctx context.Context, name string) (DomainState, bool, error) {
	out, err := d.api.GetDomainName(ctx, &apigatewayv2.GetDomainNameInput{DomainName: aws.String(name)})
	if err != nil {
		if provider.IsNotFound(err) {
			return DomainState{}, false, nil
		}
		return DomainState{}, false, err
	}
	return domainState(aws.ToString(out.DomainName), out.DomainNameConfigurations), true, nil
}

func domainState(name string, configs []types.DomainNameConfiguration) DomainState {
	s := DomainState{Name: name}
	if len(configs) > 0 {
		s.CertificateArn = aws.ToString(configs[0].CertificateArn)
		s.Target = aws.ToString(configs[0].ApiGatewayDomainName)
	}
	return s
}

func (d *Domains) Mutable(in DomainInput) map[string]string {
	return map[string]string{"certificateArn": in.CertificateArn}
}

func (d *Domains) MutableOf(s DomainState) map[string]string {
	return map[string]string{"certificateArn": s.CertificateArn}
}

func domainConfig(in DomainInput) []types.DomainNameConfiguration {
	return []types.DomainNameConfiguration{{
		CertificateArn: aws.String(in.CertificateArn),
		EndpointType:   types.EndpointTypeRegional,
		SecurityPolicy: types.SecurityPolicyTls12,
	}}
}

func (d *Domains) Create(ctx context.Context, in DomainInput) (DomainState, error) {
	out, err := d.api.CreateDomainName(ctx, &apigatewayv2.CreateDomainNameInput{
		DomainName:               aws.String(strings.ToLower(in.Name)),
		DomainNameConfigurations: domainConfig(in),
	})
	if err != nil {
		return DomainState{}, err
	}
	return domainState(aws.ToString(out.DomainName), out.DomainNameConfigurations), nil
}

func (d *Domains) Update(ctx context.Context, current DomainState, in DomainInput, _ Changes) (DomainState, error) {
	out, err := d.api.UpdateDomainName(ctx, &apigatewayv2.UpdateDomainNameInput{
		DomainName:               aws.String(current.Name),
		DomainNameConfigurations: domainConfig(in),
	})
	if err != nil {
		return current, err
	}
	return domainState(current.Name, out.DomainNameConfigurations), nil
}

// Delete removes the domain. A missing domain is not an error.
func (d *Domains) Delete(ctx context.Context, name string) error {
	_, err := d.api.DeleteDomainName(ctx, &apigatewayv2.DeleteDomainNameInput{DomainName: aws.String(name)})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}

// FindCertificate returns the issued certificate covering domain, either
// by exact name or by a wildcard on its parent.
func FindCertificate(ctx context.Context, api provider.CertificatesAPI, domain string) (string, error) {
	certs, err := provider.ListIssuedCertificates(ctx, api)
	if err != nil {
		return "", fmt.Errorf("list certificates: %w", err)
	}
	domain = strings.ToLower(domain)
	wildcard := ""
	if _, parent, ok := strings.Cut(domain, "."); ok {
		wildcard = "*." + parent
	}
	var fallback string
	for _, c := range certs {
		names := append([]string{aws.ToString(c.DomainName)}, c.SubjectAlternativeNameSummaries...)
		for _, n := range names {
			switch strings.ToLower(n) {
			case domain:
				return aws.ToString(c.CertificateArn), nil
			case wildcard:
				if fallback == "" {
					fallback = aws.ToString(c.CertificateArn)
				}
			}
		}
	}
	if fallback == "" {
		return "", fmt.Errorf("no issued certificate covers %s", domain)
	}
	return fallback, nil
}

// APIMappingInput releases a stage of a service under a base path.
type APIMappingInput struct {
	APIID    string
	Stage    string
	BasePath string
}

// APIMappings reconciles the base path mappings of one domain, matched
// by base path.
type APIMappings struct {
	api    provider.DomainAPI
	domain string
}

func NewAPIMappings(api provider.DomainAPI, domain string) *APIMappings {
	return &APIMappings{api: api, domain: domain}
}

var (
	_ Kind[APIMappingInput, types.ApiMapping] = (*APIMappings)(nil)
	_ Lister[types.ApiMapping]                = (*APIMappings)(nil)
)

func (m *APIMappings) Name() ir.Kind { return ir.KindAPIMapping }

func (m *APIMappings) Key(in APIMappingInput) string { return strings.Trim(in.BasePath, "/") }

func (m *APIMappings) KeyOf(s types.ApiMapping) string { return aws.ToString(s.ApiMappingKey) }

func (m *APIMappings) ID(s types.ApiMapping) string { return aws.ToString(s.ApiMappingId) }

func (m *APIMappings) List(ctx context.Context) ([]types.ApiMapping, error) {
	return provider.ListAPIMappings(ctx, m.api, m.domain)
}

func (m *APIMappings) Get(ctx context.Context, id string) (types.ApiMapping, bool, error) {
	items, err := m.List(ctx)
	if err != nil {
		if provider.IsNotFound(err) {
			return types.ApiMapping{}, false, nil
		}
		return types.ApiMapping{}, false, err
	}
	for _, it := range items {
		if aws.ToString(it.ApiMappingId) == id {
			return it, true, nil
		}
	}
	return types.ApiMapping{}, false, nil
}

func (m *APIMappings) Mutable(in APIMappingInput) map[string]string {
	return map[string]string{"apiId": in.APIID, "stage": in.Stage}
}

func (m *APIMappings) MutableOf(s types.ApiMapping) map[string]string {
	return map[string]string{"apiId": aws.ToString(s.ApiId), "stage": aws.ToString(s.Stage)}
}

func (m *APIMappings) Create(ctx context.Context, in APIMappingInput) (types.ApiMapping, error) {
	out, err := m.api.CreateApiMapping(ctx, &apigatewayv2.CreateApiMappingInput{
		DomainName:    aws.String(m.domain),
		ApiId:         aws.String(in.APIID),
		Stage:         aws.String(in.Stage),
		ApiMappingKey: aws.String(m.Key(in)),
	})
	if err != nil {
		return types.ApiMapping{}, err
	}
	return types.ApiMapping{ApiMappingId: out.ApiMappingId, ApiId: out.ApiId, Stage: out.Stage, ApiMappingKey: out.ApiMappingKey}, nil
}

func (m *APIMappings) Update(ctx context.Context, current types.ApiMapping, in APIMappingInput, _ Changes) (types.ApiMapping, error) {
	out, err := m.api.UpdateApiMapping(ctx, &apigatewayv2.UpdateApiMappingInput{
		DomainName:   aws.String(m.domain),
		ApiMappingId: current.ApiMappingId,
		ApiId:        aws.String(in.APIID),
		Stage:        aws.String(in.Stage),
	})
	if err != nil {
		return current, err
	}
	return types.ApiMapping{ApiMappingId: out.ApiMappingId, ApiId: out.ApiId, Stage: out.Stage, ApiMappingKey: out.ApiMappingKey}, nil
}

// Delete removes a mapping. A missing mapping or domain is not an error.
func (m *APIMappings) Delete(ctx context.Context, id string) error {
	_, err := m.api.DeleteApiMapping(ctx, &apigatewayv2.DeleteApiMappingInput{
		DomainName:   aws.String(m.domain),
		ApiMappingId: aws.String(id),
	})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}

// Count returns how many mappings remain on the domain.
func (m *APIMappings) Count(ctx context.Context) (int, error) {
	items, err := m.List(ctx)
	if err != nil {
		if provider.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return len(items), nil
}
