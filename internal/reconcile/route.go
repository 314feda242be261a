package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// RouteInput is one method on one path, proxied to the target function.
type RouteInput struct {
	Path           string
	Method         string
	Authorization  string
	APIKeyRequired bool
	Target         provider.Target
}

// RouteState is a method as the gateway reports it. CreatedPaths is only
// filled by Create and lists the path resources it had to add.
type RouteState struct {
	ResourceID     string
	Path           string
	Method         string
	Authorization  string
	APIKeyRequired bool
	IntegrationURI string
	CreatedPaths   []ir.Handle
}

// Routes reconciles the methods of one gateway service. Routes are
// matched by method and path.
type Routes struct {
	api    provider.GatewayAPI
	lambda provider.LambdaAPI
	apiID  string
}

func NewRoutes(api provider.GatewayAPI, lambda provider.LambdaAPI, restAPIID string) *Routes {
	return &Routes{api: api, lambda: lambda, apiID: restAPIID}
}

var (
	_ Kind[RouteInput, RouteState] = (*Routes)(nil)
	_ Lister[RouteState]           = (*Routes)(nil)
)

func routeID(resourceID, method string) string { return resourceID + " " + method }

func splitRouteID(id string) (resourceID, method string, err error) {
	resourceID, method, ok := strings.Cut(id, " ")
	if !ok {
		return "", "", fmt.Errorf("malformed route id %q", id)
	}
	return resourceID, method, nil
}

func (r *Routes) Name() ir.Kind { return ir.KindRoute }

func (r *Routes) Key(d RouteInput) string { return strings.ToUpper(d.Method) + " " + d.Path }

func (r *Routes) KeyOf(s RouteState) string { return s.Method + " " + s.Path }

func (r *Routes) ID(s RouteState) string { return routeID(s.ResourceID, s.Method) }

func (r *Routes) List(ctx context.Context) ([]RouteState, error) {
	resources, err := provider.ListResources(ctx, r.api, r.apiID)
	if err != nil {
		return nil, err
	}
	var out []RouteState
	for _, res := range resources {
		for method := range res.ResourceMethods {
			out = append(out, RouteState{ResourceID: aws.ToString(res.Id), Path: aws.ToString(res.Path), Method: method})
		}
	}
	return out, nil
}

func (r *Routes) Get(ctx context.Context, id string) (RouteState, bool, error) {
	resourceID, method, err := splitRouteID(id)
	if err != nil {
		return RouteState{}, false, err
	}
	out, err := r.api.GetMethod(ctx, &apigateway.GetMethodInput{
		RestApiId:  aws.String(r.apiID),
		ResourceId: aws.String(resourceID),
		HttpMethod: aws.String(method),
	})
	if err != nil {
		if provider.IsNotFound(err) {
			return RouteState{}, false, nil
		}
		return RouteState{}, false, err
	}
	s := RouteState{
		ResourceID:     resourceID,
		Method:         method,
		Authorization:  aws.ToString(out.AuthorizationType),
		APIKeyRequired: aws.ToBool(out.ApiKeyRequired),
	}
	if out.MethodIntegration != nil {
		s.IntegrationURI = aws.ToString(out.MethodIntegration.Uri)
	}
	return s, true, nil
}

func authorization(d RouteInput) string {
	if d.Authorization == "" {
		return "NONE"
	}
	return d.Authorization
}

func (r *Routes) Mutable(d RouteInput) map[string]string {
	return map[string]string{
		"authorization":  authorization(d),
		"apiKeyRequired": strconv.FormatBool(d.APIKeyRequired),
		"integrationUri": d.Target.InvokeURI(),
	}
}

func (r *Routes) MutableOf(s RouteState) map[string]string {
	return map[string]string{
		"authorization":  s.Authorization,
		"apiKeyRequired": strconv.FormatBool(s.APIKeyRequired),
		"integrationUri": s.IntegrationURI,
	}
}

func (r *Routes) Create(ctx context.Context, d RouteInput) (RouteState, error) {
	method := strings.ToUpper(d.Method)
	resourceID, created, err := r.ensurePath(ctx, d.Path)
	s := RouteState{ResourceID: resourceID, Path: d.Path, Method: method, CreatedPaths: created}
	if err != nil {
		return s, err
	}

	if _, err := r.api.PutMethod(ctx, &apigateway.PutMethodInput{
		RestApiId:         aws.String(r.apiID),
		ResourceId:        aws.String(resourceID),
		HttpMethod:        aws.String(method),
		AuthorizationType: aws.String(authorization(d)),
		ApiKeyRequired:    d.APIKeyRequired,
	}); err != nil {
		return s, fmt.Errorf("put method: %w", err)
	}
	s.Authorization = authorization(d)
	s.APIKeyRequired = d.APIKeyRequired

	if err := r.integrate(ctx, resourceID, method, d); err != nil {
		return s, err
	}
	s.IntegrationURI = d.Target.InvokeURI()
	return s, r.permit(ctx, d)
}

func (r *Routes) Update(ctx context.Context, current RouteState, d RouteInput, changes Changes) (RouteState, error) {
	var ops []types.PatchOperation
	if changes.Has("authorization") {
		ops = append(ops, types.PatchOperation{Op: types.OpReplace, Path: aws.String("/authorizationType"), Value: aws.String(authorization(d))})
	}
	if changes.Has("apiKeyRequired") {
		ops = append(ops, types.PatchOperation{Op: types.OpReplace, Path: aws.String("/apiKeyRequired"), Value: aws.String(strconv.FormatBool(d.APIKeyRequired))})
	}
	if len(ops) > 0 {
		if _, err := r.api.UpdateMethod(ctx, &apigateway.UpdateMethodInput{
			RestApiId:       aws.String(r.apiID),
			ResourceId:      aws.String(current.ResourceID),
			HttpMethod:      aws.String(current.Method),
			PatchOperations: ops,
		}); err != nil {
			return current, fmt.Errorf("update method: %w", err)
		}
		current.Authorization = authorization(d)
		current.APIKeyRequired = d.APIKeyRequired
	}
	if changes.Has("integrationUri") {
		if err := r.integrate(ctx, current.ResourceID, current.Method, d); err != nil {
			return current, err
		}
		current.IntegrationURI = d.Target.InvokeURI()
		if err := r.permit(ctx, d); err != nil {
			return current, err
		}
	}
	return current, nil
}

func (r *Routes) integrate(ctx context.Context, resourceID, method string, d RouteInput) error {
	_, err := r.api.PutIntegration(ctx, &apigateway.PutIntegrationInput{
		RestApiId:             aws.String(r.apiID),
		ResourceId:            aws.String(resourceID),
		HttpMethod:            aws.String(method),
		Type:                  types.IntegrationTypeAwsProxy,
		IntegrationHttpMethod: aws.String("POST"),
		Uri:                   aws.String(d.Target.InvokeURI()),
	})
	if err != nil {
		return fmt.Errorf("put integration: %w", err)
	}
	return nil
}

func (r *Routes) statementID(method, path string) string {
	return provider.StatementID(r.apiID, strings.ToUpper(method), path)
}

func (r *Routes) permit(ctx context.Context, d RouteInput) error {
	return provider.AddPermission(ctx, r.lambda, d.Target.Name, provider.Permission{
		StatementID: r.statementID(d.Method, d.Path),
		Principal:   provider.PrincipalAPIGateway,
		SourceArn:   d.Target.ExecuteAPIArn(r.apiID, strings.ToUpper(d.Method), d.Path),
	})
}

// ensurePath returns the resource id for path, creating every missing
// segment. Created segments are returned shallowest first.
func (r *Routes) ensurePath(ctx context.Context, path string) (string, []ir.Handle, error) {
	resources, err := provider.ListResources(ctx, r.api, r.apiID)
	if err != nil {
		return "", nil, err
	}
	byPath := make(map[string]string, len(resources))
	for _, res := range resources {
		byPath[aws.ToString(res.Path)] = aws.ToString(res.Id)
	}
	parent, ok := byPath["/"]
	if !ok {
		return "", nil, fmt.Errorf("gateway service %s has no root resource", r.apiID)
	}

	var created []ir.Handle
	current := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		current += "/" + part
		if id, ok := byPath[current]; ok {
			parent = id
			continue
		}
		out, err := r.api.CreateResource(ctx, &apigateway.CreateResourceInput{
			RestApiId: aws.String(r.apiID),
			ParentId:  aws.String(parent),
			PathPart:  aws.String(part),
		})
		if err != nil {
			return "", created, fmt.Errorf("create path %s: %w", current, err)
		}
		parent = aws.ToString(out.Id)
		created = append(created, ir.Handle{ID: parent, Kind: ir.KindGatewayPath, Name: current, CreatedByUs: true})
	}
	return parent, created, nil
}

// Delete removes the method behind a route handle and the invoke
// permission it was granted. A missing method is not an error.
func (r *Routes) Delete(ctx context.Context, h ir.Handle, function string) error {
	resourceID, method, err := splitRouteID(h.ID)
	if err != nil {
		return err
	}
	_, err = r.api.DeleteMethod(ctx, &apigateway.DeleteMethodInput{
		RestApiId:  aws.String(r.apiID),
		ResourceId: aws.String(resourceID),
		HttpMethod: aws.String(method),
	})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	if function == "" {
		return nil
	}
	_, path, _ := strings.Cut(h.Name, " ")
	return provider.RemovePermission(ctx, r.lambda, function, r.statementID(method, path))
}

// Revoke removes only the invoke permission behind a route handle, for
// methods that existed before the function was bound to them.
func (r *Routes) Revoke(ctx context.Context, h ir.Handle, function string) error {
	_, method, err := splitRouteID(h.ID)
	if err != nil {
		return err
	}
	_, path, _ := strings.Cut(h.Name, " ")
	return provider.RemovePermission(ctx, r.lambda, function, r.statementID(method, path))
}

// DeletePathIfEmpty removes a path resource that carries no methods and
// no children. It reports whether the resource is gone.
func (r *Routes) DeletePathIfEmpty(ctx context.Context, resourceID string) (bool, error) {
	resources, err := provider.ListResources(ctx, r.api, r.apiID)
	if err != nil {
		return false, err
	}
	found := false
	for _, res := range resources {
		if aws.ToString(res.Id) == resourceID {
			found = true
			if len(res.ResourceMethods) > 0 {
				return false, nil
			}
		}
		if aws.ToString(res.ParentId) == resourceID {
			return false, nil
		}
	}
	if !found {
		return true, nil
	}
	_, err = r.api.DeleteResource(ctx, &apigateway.DeleteResourceInput{
		RestApiId:  aws.String(r.apiID),
		ResourceId: aws.String(resourceID),
	})
	if err != nil && !provider.IsNotFound(err) {
		return false, err
	}
	return true, nil
}
