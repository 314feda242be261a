package reconcile

import (
	"context"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	"github.com/aws/aws-sdk-go-v2/service/apigateway/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// UsagePlans reconciles throttling and quota plans. Stages are linked
// separately so a shared plan is never rewritten wholesale.
type UsagePlans struct {
	api provider.GatewayAPI
}

func NewUsagePlans(api provider.GatewayAPI) *UsagePlans { return &UsagePlans{api: api} }

var (
	_ Kind[ir.UsagePlanSpec, types.UsagePlan] = (*UsagePlans)(nil)
	_ Lister[types.UsagePlan]                 = (*UsagePlans)(nil)
)

func (u *UsagePlans) Name() ir.Kind { return ir.KindUsagePlan }

func (u *UsagePlans) Key(d ir.UsagePlanSpec) string { return d.Name }

func (u *UsagePlans) KeyOf(s types.UsagePlan) string { return aws.ToString(s.Name) }

func (u *UsagePlans) ID(s types.UsagePlan) string { return aws.ToString(s.Id) }

func (u *UsagePlans) List(ctx context.Context) ([]types.UsagePlan, error) {
	return provider.ListUsagePlans(ctx, u.api)
}

func (u *UsagePlans) Get(ctx context.Context, id string) (types.UsagePlan, bool, error) {
	out, err := u.api.GetUsagePlan(ctx, &apigateway.GetUsagePlanInput{UsagePlanId: aws.String(id)})
	if err != nil {
		if provider.IsNotFound(err) {
			return types.UsagePlan{}, false, nil
		}
		return types.UsagePlan{}, false, err
	}
	return types.UsagePlan{
		Id:          out.Id,
		Name:        out.Name,
		Description: out.Description,
		ApiStages:   out.ApiStages,
		Throttle:    out.Throttle,
		Quota:       out.Quota,
	}, true, nil
}

func (u *UsagePlans) Mutable(d ir.UsagePlanSpec) map[string]string {
	m := map[string]string{}
	if d.Description != "" {
		m["description"] = d.Description
	}
	if d.RateLimit > 0 {
		m["rateLimit"] = strconv.FormatFloat(d.RateLimit, 'f', -1, 64)
	}
	if d.BurstLimit > 0 {
		m["burstLimit"] = strconv.Itoa(int(d.BurstLimit))
	}
	if d.QuotaLimit > 0 {
		m["quotaLimit"] = strconv.Itoa(int(d.QuotaLimit))
		m["quotaPeriod"] = quotaPeriod(d)
	}
	return m
}

func quotaPeriod(d ir.UsagePlanSpec) string {
	if d.QuotaPeriod == "" {
		return string(types.QuotaPeriodTypeDay)
	}
	return d.QuotaPeriod
}

func (u *UsagePlans) MutableOf(s types.UsagePlan) map[string]string {
	m := map[string]string{"description": aws.ToString(s.Description)}
	if s.Throttle != nil {
		m["rateLimit"] = strconv.FormatFloat(s.Throttle.RateLimit, 'f', -1, 64)
		m["burstLimit"] = strconv.Itoa(int(s.Throttle.BurstLimit))
	}
	if s.Quota != nil {
		m["quotaLimit"] = strconv.Itoa(int(s.Quota.Limit))
		m["quotaPeriod"] = string(s.Quota.Period)
	}
	return m
}

func (u *UsagePlans) Create(ctx context.Context, d ir.UsagePlanSpec) (types.UsagePlan, error) {
	in := &apigateway.CreateUsagePlanInput{Name: aws.String(d.Name)}
	if d.Description != "" {
		in.Description = aws.String(d.Description)
	}
	if d.RateLimit > 0 || d.BurstLimit > 0 {
		in.Throttle = &types.ThrottleSettings{RateLimit: d.RateLimit, BurstLimit: d.BurstLimit}
	}
	if d.QuotaLimit > 0 {
		in.Quota = &types.QuotaSettings{Limit: d.QuotaLimit, Period: types.QuotaPeriodType(quotaPeriod(d))}
	}
	out, err := u.api.CreateUsagePlan(ctx, in)
	if err != nil {
		return types.UsagePlan{}, err
	}
	return types.UsagePlan{Id: out.Id, Name: out.Name, Description: out.Description, Throttle: out.Throttle, Quota: out.Quota}, nil
}

func (u *UsagePlans) Update(ctx context.Context, current types.UsagePlan, d ir.UsagePlanSpec, changes Changes) (types.UsagePlan, error) {
	paths := map[string]string{
		"description": "/description",
		"rateLimit":   "/throttle/rateLimit",
		"burstLimit":  "/throttle/burstLimit",
		"quotaLimit":  "/quota/limit",
		"quotaPeriod": "/quota/period",
	}
	var ops []types.PatchOperation
	for _, ch := range changes {
		ops = append(ops, types.PatchOperation{Op: types.OpReplace, Path: aws.String(paths[ch.Field]), Value: aws.String(ch.To)})
	}
	out, err := u.api.UpdateUsagePlan(ctx, &apigateway.UpdateUsagePlanInput{UsagePlanId: current.Id, PatchOperations: ops})
	if err != nil {
		return current, err
	}
	return types.UsagePlan{
		Id: out.Id, Name: out.Name, Description: out.Description,
		ApiStages: out.ApiStages, Throttle: out.Throttle, Quota: out.Quota,
	}, nil
}

func stageRef(apiID, stage string) string { return apiID + ":" + stage }

// LinkStage attaches an API stage to the plan. It reports whether the link
// was added by this call.
func (u *UsagePlans) LinkStage(ctx context.Context, plan types.UsagePlan, apiID, stage string) (bool, error) {
	for _, s := range plan.ApiStages {
		if aws.ToString(s.ApiId) == apiID && aws.ToString(s.Stage) == stage {
			return false, nil
		}
	}
	_, err := u.api.UpdateUsagePlan(ctx, &apigateway.UpdateUsagePlanInput{
		UsagePlanId: plan.Id,
		PatchOperations: []types.PatchOperation{
			{Op: types.OpAdd, Path: aws.String("/apiStages"), Value: aws.String(stageRef(apiID, stage))},
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// UnlinkStage detaches an API stage from the plan. Missing plans and links
// are not errors.
func (u *UsagePlans) UnlinkStage(ctx context.Context, planID, apiID, stage string) error {
	plan, found, err := u.Get(ctx, planID)
	if err != nil || !found {
		return err
	}
	linked := false
	for _, s := range plan.ApiStages {
		if aws.ToString(s.ApiId) == apiID && aws.ToString(s.Stage) == stage {
			linked = true
		}
	}
	if !linked {
		return nil
	}
	_, err = u.api.UpdateUsagePlan(ctx, &apigateway.UpdateUsagePlanInput{
		UsagePlanId: aws.String(planID),
		PatchOperations: []types.PatchOperation{
			{Op: types.OpRemove, Path: aws.String("/apiStages"), Value: aws.String(stageRef(apiID, stage))},
		},
	})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}

// Delete removes the plan. A missing plan is not an error.
func (u *UsagePlans) Delete(ctx context.Context, id string) error {
	_, err := u.api.DeleteUsagePlan(ctx, &apigateway.DeleteUsagePlanInput{UsagePlanId: aws.String(id)})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}

// APIKeyInput names the secret that clients of a usage plan present.
type APIKeyInput struct {
	Name string
}

// APIKeys reconciles API keys, matched by name.
type APIKeys struct {
	api provider.GatewayAPI
}

func NewAPIKeys(api provider.GatewayAPI) *APIKeys { return &APIKeys{api: api} }

var (
	_ Kind[APIKeyInput, types.ApiKey] = (*APIKeys)(nil)
	_ Lister[types.ApiKey]            = (*APIKeys)(nil)
)

func (k *APIKeys) Name() ir.Kind { return ir.KindSecret }

func (k *APIKeys) Key(d APIKeyInput) string { return d.Name }

func (k *APIKeys) KeyOf(s types.ApiKey) string { return aws.ToString(s.Name) }

func (k *APIKeys) ID(s types.ApiKey) string { return aws.ToString(s.Id) }

func (k *APIKeys) List(ctx context.Context) ([]types.ApiKey, error) {
	return provider.ListAPIKeys(ctx, k.api, "")
}

func (k *APIKeys) Get(ctx context.Context, id string) (types.ApiKey, bool, error) {
	out, err := k.api.GetApiKey(ctx, &apigateway.GetApiKeyInput{ApiKey: aws.String(id)})
	if err != nil {
		if provider.IsNotFound(err) {
			return types.ApiKey{}, false, nil
		}
		return types.ApiKey{}, false, err
	}
	return types.ApiKey{Id: out.Id, Name: out.Name, Description: out.Description, Enabled: out.Enabled}, true, nil
}

func (k *APIKeys) Mutable(APIKeyInput) map[string]string {
	return map[string]string{"enabled": "true"}
}

func (k *APIKeys) MutableOf(s types.ApiKey) map[string]string {
	return map[string]string{"enabled": strconv.FormatBool(s.Enabled)}
}

func (k *APIKeys) Create(ctx context.Context, d APIKeyInput) (types.ApiKey, error) {
	out, err := k.api.CreateApiKey(ctx, &apigateway.CreateApiKeyInput{Name: aws.String(d.Name), Enabled: true})
	if err != nil {
		return types.ApiKey{}, err
	}
	return types.ApiKey{Id: out.Id, Name: out.Name, Description: out.Description, Enabled: out.Enabled}, nil
}

func (k *APIKeys) Update(ctx context.Context, current types.ApiKey, _ APIKeyInput, _ Changes) (types.ApiKey, error) {
	_, err := k.api.UpdateApiKey(ctx, &apigateway.UpdateApiKeyInput{
		ApiKey: current.Id,
		PatchOperations: []types.PatchOperation{
			{Op: types.OpReplace, Path: aws.String("/enabled"), Value: aws.String("true")},
		},
	})
	if err != nil {
		return current, err
	}
	current.Enabled = true
	return current, nil
}

// Link attaches the key to a plan and reports whether this call added the
// link.
func (k *APIKeys) Link(ctx context.Context, planID, keyID string) (bool, error) {
	linked, err := provider.ListUsagePlanKeys(ctx, k.api, planID)
	if err != nil {
		return false, err
	}
	for _, l := range linked {
		if aws.ToString(l.Id) == keyID {
			return false, nil
		}
	}
	_, err = k.api.CreateUsagePlanKey(ctx, &apigateway.CreateUsagePlanKeyInput{
		UsagePlanId: aws.String(planID),
		KeyId:       aws.String(keyID),
		KeyType:     aws.String("API_KEY"),
	})
	if err != nil {
		if provider.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Unlink detaches the key from a plan. A missing link is not an error.
func (k *APIKeys) Unlink(ctx context.Context, planID, keyID string) error {
	_, err := k.api.DeleteUsagePlanKey(ctx, &apigateway.DeleteUsagePlanKeyInput{
		UsagePlanId: aws.String(planID),
		KeyId:       aws.String(keyID),
	})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}

// Delete removes the key. A missing key is not an error.
func (k *APIKeys) Delete(ctx context.Context, id string) error {
	_, err := k.api.DeleteApiKey(ctx, &apigateway.DeleteApiKeyInput{ApiKey: aws.String(id)})
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}
