package trigger

import (
	"context"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/picklr-io/fnstack/internal/ir"
	provider "github.com/picklr-io/fnstack/providers/aws"
)

// storage binds one lambda configuration inside a bucket's notification
// document. The document is shared, so every write merges into what is
// already there.
type storage struct {
	s3     provider.S3API
	lambda provider.LambdaAPI
	prefix string
}

var _ Adapter = (*storage)(nil)

func (s *storage) Kind() Kind { return Storage }

func (s *storage) CanDisable() bool { return false }

func (s *storage) Key(spec ir.TriggerSpec) string {
	if spec.Storage == nil {
		return string(Storage) + ":" + spec.Name
	}
	return string(Storage) + ":" + spec.Storage.Bucket + ":" + eventFilter(spec.Storage)
}

func eventFilter(st *ir.StorageSpec) string {
	events := slices.Clone(st.Events)
	slices.Sort(events)
	return strings.Join(events, ",") + "|" + st.Prefix + "|" + st.Suffix
}

func (s *storage) configID(fn provider.Target, spec ir.TriggerSpec) string {
	return bindingName(s.prefix, fn.Name, spec.Name, 255)
}

func storageAttrs(c types.LambdaFunctionConfiguration) map[string]string {
	events := make([]string, 0, len(c.Events))
	for _, e := range c.Events {
		events = append(events, string(e))
	}
	slices.Sort(events)
	attrs := map[string]string{
		"function": aws.ToString(c.LambdaFunctionArn),
		"events":   strings.Join(events, ","),
		"prefix":   "",
		"suffix":   "",
	}
	if c.Filter != nil && c.Filter.Key != nil {
		for _, r := range c.Filter.Key.FilterRules {
			switch strings.ToLower(string(r.Name)) {
			case "prefix":
				attrs["prefix"] = aws.ToString(r.Value)
			case "suffix":
				attrs["suffix"] = aws.ToString(r.Value)
			}
		}
	}
	return attrs
}

func (s *storage) wantAttrs(fn provider.Target, st *ir.StorageSpec) map[string]string {
	events := slices.Clone(st.Events)
	slices.Sort(events)
	return map[string]string{
		"function": fn.Arn,
		"events":   strings.Join(events, ","),
		"prefix":   st.Prefix,
		"suffix":   st.Suffix,
	}
}

func (s *storage) notifications(ctx context.Context, bucket string) (*s3.GetBucketNotificationConfigurationOutput, error) {
	return s.s3.GetBucketNotificationConfiguration(ctx, &s3.GetBucketNotificationConfigurationInput{Bucket: aws.String(bucket)})
}

// Get matches our configuration id first, then any configuration that
// sends the same events of the same bucket to the function.
func (s *storage) Get(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, bool, error) {
	if spec.Storage == nil {
		return Binding{}, false, missing(spec)
	}
	out, err := s.notifications(ctx, spec.Storage.Bucket)
	if err != nil {
		return Binding{}, false, err
	}
	id := s.configID(fn, spec)
	want := s.wantAttrs(fn, spec.Storage)
	var byFilter *types.LambdaFunctionConfiguration
	for i, c := range out.LambdaFunctionConfigurations {
		if strings.EqualFold(aws.ToString(c.Id), id) {
			return s.binding(spec.Storage.Bucket, c), true, nil
		}
		if byFilter == nil && equalAttrs(want, Binding{Attrs: storageAttrs(c)}) {
			byFilter = &out.LambdaFunctionConfigurations[i]
		}
	}
	if byFilter != nil {
		return s.binding(spec.Storage.Bucket, *byFilter), true, nil
	}
	return Binding{}, false, nil
}

func (s *storage) binding(bucket string, c types.LambdaFunctionConfiguration) Binding {
	attrs := storageAttrs(c)
	attrs["bucket"] = bucket
	return Binding{ID: aws.ToString(c.Id), Enabled: true, Attrs: attrs}
}

func (s *storage) Equal(fn provider.Target, spec ir.TriggerSpec, b Binding) bool {
	if spec.Storage == nil {
		return false
	}
	return equalAttrs(s.wantAttrs(fn, spec.Storage), b)
}

func (s *storage) Create(ctx context.Context, fn provider.Target, spec ir.TriggerSpec) (Binding, error) {
	if spec.Storage == nil {
		return Binding{}, missing(spec)
	}
	st := spec.Storage
	id := s.configID(fn, spec)

	// The bucket validates its destinations, so the grant goes first.
	err := provider.AddPermission(ctx, s.lambda, fn.Name, provider.Permission{
		StatementID:   provider.StatementID(string(Storage), st.Bucket, id),
		Principal:     provider.PrincipalS3,
		SourceArn:     fn.BucketArn(st.Bucket),
		SourceAccount: fn.Account,
	})
	if err != nil {
		return Binding{}, err
	}

	cfg := types.LambdaFunctionConfiguration{
		Id:                aws.String(id),
		LambdaFunctionArn: aws.String(fn.Arn),
	}
	for _, e := range st.Events {
		cfg.Events = append(cfg.Events, types.Event(e))
	}
	var rules []types.FilterRule
	if st.Prefix != "" {
		rules = append(rules, types.FilterRule{Name: types.FilterRuleNamePrefix, Value: aws.String(st.Prefix)})
	}
	if st.Suffix != "" {
		rules = append(rules, types.FilterRule{Name: types.FilterRuleNameSuffix, Value: aws.String(st.Suffix)})
	}
	if len(rules) > 0 {
		cfg.Filter = &types.NotificationConfigurationFilter{Key: &types.S3KeyFilter{FilterRules: rules}}
	}

	err = s.rewrite(ctx, st.Bucket, func(cfgs []types.LambdaFunctionConfiguration) []types.LambdaFunctionConfiguration {
		cfgs = slices.DeleteFunc(cfgs, func(c types.LambdaFunctionConfiguration) bool {
			return strings.EqualFold(aws.ToString(c.Id), id)
		})
		return append(cfgs, cfg)
	})
	if err != nil {
		// The grant is already in place; the id lets Unbind revoke it.
		return Binding{ID: id, Attrs: map[string]string{"bucket": st.Bucket}}, err
	}
	return s.binding(st.Bucket, cfg), nil
}

// Release revokes the grant of a configuration that never reached the
// bucket.
func (s *storage) Release(ctx context.Context, fn provider.Target, spec ir.TriggerSpec, id string) error {
	if spec.Storage == nil {
		return missing(spec)
	}
	return provider.RemovePermission(ctx, s.lambda, fn.Name, provider.StatementID(string(Storage), spec.Storage.Bucket, id))
}

// rewrite reads the bucket's notification document, edits its lambda
// configurations and writes it back with every other section intact.
func (s *storage) rewrite(ctx context.Context, bucket string, edit func([]types.LambdaFunctionConfiguration) []types.LambdaFunctionConfiguration) error {
	out, err := s.notifications(ctx, bucket)
	if err != nil {
		return err
	}
	_, err = s.s3.PutBucketNotificationConfiguration(ctx, &s3.PutBucketNotificationConfigurationInput{
		Bucket: aws.String(bucket),
		NotificationConfiguration: &types.NotificationConfiguration{
			LambdaFunctionConfigurations: edit(slices.Clone(out.LambdaFunctionConfigurations)),
			QueueConfigurations:          out.QueueConfigurations,
			TopicConfigurations:          out.TopicConfigurations,
			EventBridgeConfiguration:     out.EventBridgeConfiguration,
		},
	})
	return err
}

func (s *storage) Delete(ctx context.Context, fn provider.Target, b Binding) (bool, error) {
	bucket := b.Attrs["bucket"]
	removed := false
	err := s.rewrite(ctx, bucket, func(cfgs []types.LambdaFunctionConfiguration) []types.LambdaFunctionConfiguration {
		return slices.DeleteFunc(cfgs, func(c types.LambdaFunctionConfiguration) bool {
			if aws.ToString(c.Id) == b.ID {
				removed = true
				return true
			}
			return false
		})
	})
	if err != nil {
		if provider.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if err := provider.RemovePermission(ctx, s.lambda, fn.Name, provider.StatementID(string(Storage), bucket, b.ID)); err != nil {
		return removed, err
	}
	return removed, nil
}
