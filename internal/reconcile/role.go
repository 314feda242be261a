package reconcile

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

const lambdaTrustPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"Service":"lambda.amazonaws.com"},"Action":"sts:AssumeRole"}]}`

// RoleInput describes an execution role created for a function that names
// none.
type RoleInput struct {
	Name        string
	Description string
	Partition   string
}

// BasicExecutionPolicy is the managed policy that lets a function write
// its logs.
func BasicExecutionPolicy(partition string) string {
	if partition == "" {
		partition = "aws"
	}
	return "arn:" + partition + ":iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
}

// Roles reconciles execution roles.
type Roles struct {
	api provider.IAMAPI
}

func NewRoles(api provider.IAMAPI) *Roles { return &Roles{api: api} }

var _ Kind[RoleInput, types.Role] = (*Roles)(nil)

func (r *Roles) Name() ir.Kind { return ir.KindRole }

func (r *Roles) Key(d RoleInput) string { return d.Name }

func (r *Roles) ID(s types.Role) string { return aws.ToString(s.RoleName) }

func (r *Roles) Get(ctx context.Context, name string) (types.Role, bool, error) {
	out, err := r.api.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		if provider.IsNotFound(err) {
			return types.Role{}, false, nil
		}
		return types.Role{}, false, err
	}
	return *out.Role, true, nil
}

func (r *Roles) Mutable(d RoleInput) map[string]string {
	return map[string]string{"description": d.Description}
}

func (r *Roles) MutableOf(s types.Role) map[string]string {
	return map[string]string{"description": aws.ToString(s.Description)}
}

func (r *Roles) Create(ctx context.Context, d RoleInput) (types.Role, error) {
	out, err := r.api.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(d.Name),
		Description:              aws.String(d.Description),
		AssumeRolePolicyDocument: aws.String(lambdaTrustPolicy),
	})
	if err != nil {
		return types.Role{}, err
	}
	if _, err := r.api.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(d.Name),
		PolicyArn: aws.String(BasicExecutionPolicy(d.Partition)),
	}); err != nil {
		return *out.Role, fmt.Errorf("attach execution policy: %w", err)
	}
	return *out.Role, nil
}

func (r *Roles) Update(ctx context.Context, current types.Role, d RoleInput, _ Changes) (types.Role, error) {
	if _, err := r.api.UpdateRole(ctx, &iam.UpdateRoleInput{
		RoleName:    current.RoleName,
		Description: aws.String(d.Description),
	}); err != nil {
		return current, err
	}
	current.Description = aws.String(d.Description)
	return current, nil
}

// Delete detaches the execution policy and deletes the role. A missing
// role is not an error.
func (r *Roles) Delete(ctx context.Context, name, partition string) error {
	_, err := r.api.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(name),
		PolicyArn: aws.String(BasicExecutionPolicy(partition)),
	})
	if err != nil && !provider.IsNotFound(err) {
		return fmt.Errorf("detach execution policy: %w", err)
	}
	if _, err := r.api.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)}); err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}
