package reconcile

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// RestAPIs reconciles gateway services. A service with an id is fetched
// directly; otherwise it is matched by name.
type RestAPIs struct {
	api provider.GatewayAPI
}

func NewRestAPIs(api provider.GatewayAPI) *RestAPIs { return &RestAPIs{api: api} }

var (
	_ Kind[ir.GatewayServiceSpec, types.RestApi] = (*RestAPIs)(nil)
	_ Lister[types.RestApi]                      = (*RestAPIs)(nil)
)

func (r *RestAPIs) Name() ir.Kind { return ir.KindGatewayService }

func (r *RestAPIs) Key(d ir.GatewayServiceSpec) string { return d.Name }

func (r *RestAPIs) KeyOf(s types.RestApi) string { return aws.ToString(s.Name) }

func (r *RestAPIs) ID(s types.RestApi) string { return aws.ToString(s.Id) }

func (r *RestAPIs) List(ctx context.Context) ([]types.RestApi, error) {
	return provider.ListRestAPIs(ctx, r.api)
}

func (r *RestAPIs) Get(ctx context.Context, id string) (types.RestApi, bool, error) {
	out, err := r.api.GetRestApi(ctx, &apigateway.GetRestApiInput{RestApiId: aws.String(id)})
	if err != nil {
		if provider.IsNotFound(err) {
			return types.RestApi{}, false, nil
		}
		return types.RestApi{}, false, err
	}
	return types.RestApi{
		Id:          out.Id,
		Name:        out.Name,
		Description: out.Description,
		CreatedDate: out.CreatedDate,
	}, true, nil
}

func (r *RestAPIs) Mutable(d ir.GatewayServiceSpec) map[string]string {
	m := map[string]string{}
	if d.Description != "" {
		m["description"] = d.Description
	}
	return m
}

func (r *RestAPIs) MutableOf(s types.RestApi) map[string]string {
	return map[string]string{"description": aws.ToString(s.Description)}
}

func (r *RestAPIs) Create(ctx context.Context, d ir.GatewayServiceSpec) (types.RestApi, error) {
	if d.Name == "" {
		return types.RestApi{}, fmt.Errorf("gateway service %s does not exist and has no name to create it with", d.ID)
	}
	in := &apigateway.CreateRestApiInput{
		Name:                  aws.String(d.Name),
		EndpointConfiguration: &types.EndpointConfiguration{Types: []types.EndpointType{types.EndpointTypeRegional}},
	}
	if d.Description != "" {
		in.Description = aws.String(d.Description)
	}
	out, err := r.api.CreateRestApi(ctx, in)
	if err != nil {
		return types.RestApi{}, err
	}
	return types.RestApi{Id: out.Id, Name: out.Name, Description: out.Description, CreatedDate: out.CreatedDate}, nil
}

func (r *RestAPIs) Update(ctx context.Context, current types.RestApi, d ir.GatewayServiceSpec, _ Changes) (types.RestApi, error) {
	_, err := r.api.UpdateRestApi(ctx, &apigateway.UpdateRestApiInput{
		RestApiId: current.Id,
		PatchOperations: []types.PatchOperation{
			{Op: types.OpReplace, Path: aws.String("/description"), Value: aws.String(d.Description)},
		},
	})
	if err != nil {
		return current, err
	}
	current.Description = aws.String(d.Description)
	return current, nil
}

// Delete removes the service with everything under it. A missing
// service is not an error.
func (r *RestAPIs) Delete(ctx context.Context, id string) error {
	_, err := r.api.DeleteRestApi(ctx, &apigateway.DeleteRestApiInput{RestApiId: aws.String(id)})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}

// StageExists reports whether a stage has been deployed on the service.
func (r *RestAPIs) StageExists(ctx context.Context, id, stage string) (bool, error) {
	_, err := r.api.GetStage(ctx, &apigateway.GetStageInput{RestApiId: aws.String(id), StageName: aws.String(stage)})
	if err != nil {
		if provider.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Deploy snapshots the service's routes into stage, creating the stage
// when it does not exist. It returns the deployment id.
func (r *RestAPIs) Deploy(ctx context.Context, id, stage, description string) (string, error) {
	out, err := r.api.CreateDeployment(ctx, &apigateway.CreateDeploymentInput{
		RestApiId:   aws.String(id),
		StageName:   aws.String(stage),
		Description: aws.String(description),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.Id), nil
}

// DeleteStage removes a stage. A missing stage is not an error.
func (r *RestAPIs) DeleteStage(ctx context.Context, id, stage string) error {
	_, err := r.api.DeleteStage(ctx, &apigateway.DeleteStageInput{RestApiId: aws.String(id), StageName: aws.String(stage)})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}

// InvokeURL is the public URL of a route released to stage.
func InvokeURL(apiID, region, stage, path string) string {
	return fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s%s", apiID, region, stage, path)
}
