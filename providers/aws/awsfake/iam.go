package awsfake

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"

	provider "github.com/picklr-io/fnstack/providers/aws"
)

// IAM is the fake identity service.
type IAM struct {
	cloud *Cloud
	mu    sync.Mutex
	ids   ids

	roles    map[string]*types.Role
	attached map[string]map[string]bool
}

var _ provider.IAMAPI = (*IAM)(nil)

func newIAM(c *Cloud) *IAM {
	return &IAM{cloud: c, roles: make(map[string]*types.Role), attached: make(map[string]map[string]bool)}
}

func noSuchEntity(name string) error {
	return provider.NewError("NoSuchEntity", "The role with name %s cannot be found.", name)
}

// Seed installs a role created outside fnstack.
func (f *IAM) Seed(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.newRole(name, "")
	return aws.ToString(r.Arn)
}

// Role reports whether a role exists and its attached policies.
func (f *IAM) Role(name string) (bool, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[name]; !ok {
		return false, nil
	}
	return true, sortedKeys(f.attached[name])
}

func (f *IAM) newRole(name, description string) *types.Role {
	r := &types.Role{
		RoleName:   aws.String(name),
		RoleId:     aws.String(f.ids.new("AROA")),
		Arn:        aws.String("arn:" + f.cloud.Partition + ":iam::" + f.cloud.Account + ":role/" + name),
		Path:       aws.String("/"),
		CreateDate: aws.Time(time.Now()),
	}
	if description != "" {
		r.Description = aws.String(description)
	}
	f.roles[name] = r
	f.attached[name] = map[string]bool{}
	return r
}

func (f *IAM) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	if err := f.cloud.call("iam.GetRole"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, noSuchEntity(aws.ToString(in.RoleName))
	}
	cp := *r
	return &iam.GetRoleOutput{Role: &cp}, nil
}

func (f *IAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if err := f.cloud.call("iam.CreateRole"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; ok {
		return nil, conflict("EntityAlreadyExists", "Role with name %s already exists.", name)
	}
	r := f.newRole(name, aws.ToString(in.Description))
	cp := *r
	return &iam.CreateRoleOutput{Role: &cp}, nil
}

func (f *IAM) UpdateRole(_ context.Context, in *iam.UpdateRoleInput, _ ...func(*iam.Options)) (*iam.UpdateRoleOutput, error) {
	if err := f.cloud.call("iam.UpdateRole"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[aws.ToString(in.RoleName)]
	if !ok {
		return nil, noSuchEntity(aws.ToString(in.RoleName))
	}
	r.Description = in.Description
	return &iam.UpdateRoleOutput{}, nil
}

func (f *IAM) DeleteRole(_ context.Context, in *iam.DeleteRoleInput, _ ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	if err := f.cloud.call("iam.DeleteRole"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; !ok {
		return nil, noSuchEntity(name)
	}
	if len(f.attached[name]) > 0 {
		return nil, provider.NewError("DeleteConflict", "Cannot delete entity, must detach all policies first.")
	}
	delete(f.roles, name)
	delete(f.attached, name)
	return &iam.DeleteRoleOutput{}, nil
}

func (f *IAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	if err := f.cloud.call("iam.AttachRolePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; !ok {
		return nil, noSuchEntity(name)
	}
	f.attached[name][aws.ToString(in.PolicyArn)] = true
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *IAM) DetachRolePolicy(_ context.Context, in *iam.DetachRolePolicyInput, _ ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	if err := f.cloud.call("iam.DetachRolePolicy"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	name := aws.ToString(in.RoleName)
	if !f.attached[name][aws.ToString(in.PolicyArn)] {
		return nil, provider.NewError("NoSuchEntity", "Policy %s was not found.", aws.ToString(in.PolicyArn))
	}
	delete(f.attached[name], aws.ToString(in.PolicyArn))
	return &iam.DetachRolePolicyOutput{}, nil
}
