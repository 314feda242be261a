package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
	"github.com/aws/aws-sdk-go-v2/service/apigateway"
	agtypes "github.com/aws/aws-sdk-go-v2/service/apigateway/types"
	"github.com/aws/aws-sdk-go-v2/service/apigatewayv2"
	v2types "github.com/aws/aws-sdk-go-v2/service/apigatewayv2/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	logtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// collect drains a token-paginated listing into one slice.
func collect[T any](ctx context.Context, page func(ctx context.Context, token *string) ([]T, *string, error)) ([]T, error) {
	var (
		out   []T
		token *string
	)
	for {
		items, next, err := page(ctx, token)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
		if aws.ToString(next) == "" || aws.ToString(next) == aws.ToString(token) {
			return out, nil
		}
		token = next
	}
}

func ListRestAPIs(ctx context.Context, api GatewayAPI) ([]agtypes.RestApi, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]agtypes.RestApi, *string, error) {
		out, err := api.GetRestApis(ctx, &apigateway.GetRestApisInput{Position: token, Limit: aws.Int32(500)})
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.Position, nil
	})
}

func ListResources(ctx context.Context, api GatewayAPI, restAPIID string) ([]agtypes.Resource, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]agtypes.Resource, *string, error) {
		out, err := api.GetResources(ctx, &apigateway.GetResourcesInput{
			RestApiId: aws.String(restAPIID),
			Position:  token,
			Limit:     aws.Int32(500),
		})
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.Position, nil
	})
}

func ListUsagePlans(ctx context.Context, api GatewayAPI) ([]agtypes.UsagePlan, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]agtypes.UsagePlan, *string, error) {
		out, err := api.GetUsagePlans(ctx, &apigateway.GetUsagePlansInput{Position: token, Limit: aws.Int32(500)})
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.Position, nil
	})
}

func ListAPIKeys(ctx context.Context, api GatewayAPI, nameQuery string) ([]agtypes.ApiKey, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]agtypes.ApiKey, *string, error) {
		in := &apigateway.GetApiKeysInput{Position: token, Limit: aws.Int32(500)}
		if nameQuery != "" {
			in.NameQuery = aws.String(nameQuery)
		}
		out, err := api.GetApiKeys(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.Position, nil
	})
}

func ListUsagePlanKeys(ctx context.Context, api GatewayAPI, planID string) ([]agtypes.UsagePlanKey, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]agtypes.UsagePlanKey, *string, error) {
		out, err := api.GetUsagePlanKeys(ctx, &apigateway.GetUsagePlanKeysInput{
			UsagePlanId: aws.String(planID),
			Position:    token,
			Limit:       aws.Int32(500),
		})
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.Position, nil
	})
}

func ListAPIMappings(ctx context.Context, api DomainAPI, domain string) ([]v2types.ApiMapping, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]v2types.ApiMapping, *string, error) {
		out, err := api.GetApiMappings(ctx, &apigatewayv2.GetApiMappingsInput{
			DomainName: aws.String(domain),
			NextToken:  token,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.Items, out.NextToken, nil
	})
}

// ListIssuedCertificates returns every certificate in ISSUED status.
func ListIssuedCertificates(ctx context.Context, api CertificatesAPI) ([]acmtypes.CertificateSummary, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]acmtypes.CertificateSummary, *string, error) {
		out, err := api.ListCertificates(ctx, &acm.ListCertificatesInput{
			CertificateStatuses: []acmtypes.CertificateStatus{acmtypes.CertificateStatusIssued},
			NextToken:           token,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.CertificateSummaryList, out.NextToken, nil
	})
}

func ListEventSourceMappings(ctx context.Context, api LambdaAPI, function, sourceArn string) ([]lambdatypes.EventSourceMappingConfiguration, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]lambdatypes.EventSourceMappingConfiguration, *string, error) {
		in := &lambda.ListEventSourceMappingsInput{FunctionName: aws.String(function), Marker: token}
		if sourceArn != "" {
			in.EventSourceArn = aws.String(sourceArn)
		}
		out, err := api.ListEventSourceMappings(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		return out.EventSourceMappings, out.NextMarker, nil
	})
}

func ListListenerRules(ctx context.Context, api ELBAPI, listenerArn string) ([]elbtypes.Rule, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]elbtypes.Rule, *string, error) {
		out, err := api.DescribeRules(ctx, &elasticloadbalancingv2.DescribeRulesInput{
			ListenerArn: aws.String(listenerArn),
			Marker:      token,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.Rules, out.NextMarker, nil
	})
}

func ListSubscriptionFilters(ctx context.Context, api LogsAPI, logGroup, prefix string) ([]logtypes.SubscriptionFilter, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]logtypes.SubscriptionFilter, *string, error) {
		in := &cloudwatchlogs.DescribeSubscriptionFiltersInput{LogGroupName: aws.String(logGroup), NextToken: token}
		if prefix != "" {
			in.FilterNamePrefix = aws.String(prefix)
		}
		out, err := api.DescribeSubscriptionFilters(ctx, in)
		if err != nil {
			return nil, nil, err
		}
		return out.SubscriptionFilters, out.NextToken, nil
	})
}

func ListLogGroups(ctx context.Context, api LogsAPI, prefix string) ([]logtypes.LogGroup, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]logtypes.LogGroup, *string, error) {
		out, err := api.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
			LogGroupNamePrefix: aws.String(prefix),
			NextToken:          token,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.LogGroups, out.NextToken, nil
	})
}

func ListRuleTargets(ctx context.Context, api EventsAPI, rule string) ([]ebtypes.Target, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]ebtypes.Target, *string, error) {
		out, err := api.ListTargetsByRule(ctx, &eventbridge.ListTargetsByRuleInput{Rule: aws.String(rule), NextToken: token})
		if err != nil {
			return nil, nil, err
		}
		return out.Targets, out.NextToken, nil
	})
}

func ListTopicSubscriptions(ctx context.Context, api SNSAPI, topicArn string) ([]snstypes.Subscription, error) {
	return collect(ctx, func(ctx context.Context, token *string) ([]snstypes.Subscription, *string, error) {
		out, err := api.ListSubscriptionsByTopic(ctx, &sns.ListSubscriptionsByTopicInput{
			TopicArn:  aws.String(topicArn),
			NextToken: token,
		})
		if err != nil {
			return nil, nil, err
		}
		return out.Subscriptions, out.NextToken, nil
	})
}
