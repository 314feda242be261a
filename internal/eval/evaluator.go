package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/apple/pkl-go/pkl"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/picklr-io/fnstack/internal/ir"
)

// Document is the top level of a spec file. A file either lists several
// functions under `functions` or describes a single one at the root.
type Document struct {
	Functions []ir.Spec `json:"functions" pkl:"functions"`
}

// Evaluator loads function specs from PKL, YAML or JSON files and validates
// them.
type Evaluator struct {
	projectDir string
	validate   *validator.Validate
}

func NewEvaluator(projectDir string) *Evaluator {
	v := validator.New()
	v.RegisterStructValidation(validateTrigger, ir.TriggerSpec{})
	v.RegisterStructValidation(validateQueue, ir.QueueSpec{})
	v.RegisterStructValidation(validateCode, ir.CodeSpec{})
	return &Evaluator{
		projectDir: projectDir,
		validate:   v,
	}
}

// Load reads one spec file, picking the decoder by extension. Relative code
// paths are resolved against the file's directory.
func (e *Evaluator) Load(ctx context.Context, path string, properties map[string]string) ([]ir.Spec, error) {
	var (
		specs []ir.Spec
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl":
		specs, err = e.LoadPkl(ctx, path, properties)
	case ".yaml", ".yml", ".json":
		var data []byte
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		specs, err = Decode(data)
	default:
		return nil, fmt.Errorf("%s: unsupported spec format %q", path, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range specs {
		if p := specs[i].Code.Path; p != "" && !filepath.IsAbs(p) {
			specs[i].Code.Path = filepath.Join(base, p)
		}
	}
	if err := e.Validate(specs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

// LoadPkl evaluates a PKL module whose output is a Document.
func (e *Evaluator) LoadPkl(ctx context.Context, entryPoint string, properties map[string]string) ([]ir.Spec, error) {
	dir, err := filepath.Abs(e.projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	u, err := url.Parse("file://" + filepath.ToSlash(dir) + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	var evaluator pkl.Evaluator
	if _, statErr := os.Stat(filepath.Join(dir, "PklProject")); statErr == nil {
		evaluator, err = pkl.NewProjectEvaluator(ctx, u, opts...)
	} else {
		evaluator, err = pkl.NewEvaluator(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
	}
	defer evaluator.Close()

	var doc Document
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &doc); err != nil {
		return nil, fmt.Errorf("failed to evaluate spec: %w", err)
	}
	return doc.Functions, nil
}

// Decode parses a YAML or JSON document. Unknown fields are rejected.
func Decode(data []byte) ([]ir.Spec, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse spec: %w", err)
	}
	root, ok := tree.(map[string]any)
	if !ok {
		return nil, errors.New("spec must be a mapping")
	}

	// YAML trees are re-encoded so the json field names of ir.Spec apply to
	// both formats.
	raw, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to normalise spec: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	if _, multi := root["functions"]; multi {
		var doc Document
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode spec: %w", err)
		}
		return doc.Functions, nil
	}
	var spec ir.Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode spec: %w", err)
	}
	return []ir.Spec{spec}, nil
}

// Validate checks field constraints and the cross-field rules: one function
// name per set, one trigger per natural key, and a kind block matching each
// trigger's kind.
func (e *Evaluator) Validate(specs []ir.Spec) error {
	if len(specs) == 0 {
		return errors.New("no functions defined")
	}
	var errs []error
	seen := make(map[string]bool, len(specs))
	for i := range specs {
		s := &specs[i]
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("function %q is defined more than once", s.Name))
		}
		seen[s.Name] = true

		if err := e.validate.Struct(s); err != nil {
			errs = append(errs, describe(s.Name, err))
		}

		keys := make(map[string]bool, len(s.Triggers))
		topics := make(map[string]bool)
		for _, t := range s.Triggers {
			k := strings.ToLower(t.Kind) + "/" + strings.ToLower(t.Name)
			if keys[k] {
				errs = append(errs, fmt.Errorf("function %q: trigger %s %q is defined more than once", s.Name, t.Kind, t.Name))
			}
			keys[k] = true

			// a topic holds at most one subscription per endpoint
			if t.Topic != nil {
				if topics[t.Topic.Topic] {
					errs = append(errs, fmt.Errorf("function %q: topic %q is subscribed more than once", s.Name, t.Topic.Topic))
				}
				topics[t.Topic.Topic] = true
			}
		}
	}
	return errors.Join(errs...)
}

func describe(name string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("function %q: %w", name, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		msgs = append(msgs, msg)
	}
	return fmt.Errorf("function %q: %s", name, strings.Join(msgs, "; "))
}

func validateTrigger(sl validator.StructLevel) {
	t := sl.Current().Interface().(ir.TriggerSpec)
	set := map[string]bool{
		ir.TriggerTimer:        t.Timer != nil,
		ir.TriggerStorage:      t.Storage != nil,
		ir.TriggerLogs:         t.Logs != nil,
		ir.TriggerLoadBalancer: t.LoadBalancer != nil,
		ir.TriggerQueue:        t.Queue != nil,
		ir.TriggerGateway:      t.Gateway != nil,
		ir.TriggerTopic:        t.Topic != nil,
	}
	for kind, present := range set {
		if present != (kind == t.Kind) {
			sl.ReportError(t.Kind, "Kind", "Kind", "kindblock", kind)
		}
	}
}

func validateQueue(sl validator.StructLevel) {
	q := sl.Current().Interface().(ir.QueueSpec)
	if (q.Queue == "") == (q.Stream == "") {
		sl.ReportError(q.Queue, "Queue", "Queue", "queueorstream", "")
	}
}

func validateCode(sl validator.StructLevel) {
	c := sl.Current().Interface().(ir.CodeSpec)
	s3 := c.S3Bucket != "" || c.S3Key != ""
	switch {
	case c.Path == "" && !s3:
		sl.ReportError(c.Path, "Path", "Path", "codesource", "")
	case c.Path != "" && s3:
		sl.ReportError(c.Path, "Path", "Path", "onecodesource", "")
	case s3 && (c.S3Bucket == "" || c.S3Key == ""):
		sl.ReportError(c.S3Key, "S3Key", "S3Key", "s3location", "")
	}
}
