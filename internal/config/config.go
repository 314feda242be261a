package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Environment variables read by FromEnv.
const (
	EnvRegion             = "FNSTACK_REGION"
	EnvProfile            = "FNSTACK_PROFILE"
	EnvPollInterval       = "FNSTACK_POLL_INTERVAL"
	EnvActivationAttempts = "FNSTACK_ACTIVATION_ATTEMPTS"
	EnvDeleteTimeout      = "FNSTACK_DELETE_TIMEOUT"
	EnvStage              = "FNSTACK_STAGE"
	EnvNamePrefix         = "FNSTACK_NAME_PREFIX"
)

const (
	DefaultRegion             = "us-east-1"
	DefaultPollInterval       = 500 * time.Millisecond
	DefaultActivationAttempts = 600
	DefaultDeleteTimeout      = 2 * time.Minute
	DefaultStage              = "release"
	DefaultNamePrefix         = "fnstack"
)

// Config carries the region and timing settings every component is built
// with. It is passed explicitly; nothing reads it from package state.
type Config struct {
	Region  string `validate:"required"`
	Profile string

	// PollInterval is the fixed delay between status probes.
	PollInterval time.Duration `validate:"required,gt=0"`

	// ActivationAttempts bounds how many probes are spent waiting for a
	// function to become addressable after create or update.
	ActivationAttempts int `validate:"required,gt=0"`

	// DeleteTimeout bounds waits for resources to disappear.
	DeleteTimeout time.Duration `validate:"required,gt=0"`

	// Stage is the gateway stage routes are released to when the spec
	// names none.
	Stage string

	// NamePrefix prefixes generated names (roles, rules, target groups).
	NamePrefix string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Region:             DefaultRegion,
		PollInterval:       DefaultPollInterval,
		ActivationAttempts: DefaultActivationAttempts,
		DeleteTimeout:      DefaultDeleteTimeout,
		Stage:              DefaultStage,
		NamePrefix:         DefaultNamePrefix,
	}
}

// ActivationTimeout is the wall-clock ceiling implied by the attempt budget.
func (c Config) ActivationTimeout() time.Duration {
	return time.Duration(c.ActivationAttempts) * c.PollInterval
}

// FromEnv overlays FNSTACK_* environment variables on c.
func (c Config) FromEnv() (Config, error) {
	return c.overlay(os.LookupEnv)
}

func (c Config) overlay(lookup func(string) (string, bool)) (Config, error) {
	if v, ok := lookup(EnvRegion); ok && v != "" {
		c.Region = v
	}
	if v, ok := lookup(EnvProfile); ok {
		c.Profile = v
	}
	if v, ok := lookup(EnvStage); ok && v != "" {
		c.Stage = v
	}
	if v, ok := lookup(EnvNamePrefix); ok && v != "" {
		c.NamePrefix = v
	}
	if v, ok := lookup(EnvPollInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("invalid %s: %w", EnvPollInterval, err)
		}
		c.PollInterval = d
	}
	if v, ok := lookup(EnvDeleteTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("invalid %s: %w", EnvDeleteTimeout, err)
		}
		c.DeleteTimeout = d
	}
	if v, ok := lookup(EnvActivationAttempts); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("invalid %s: %w", EnvActivationAttempts, err)
		}
		c.ActivationAttempts = n
	}
	return c, c.Validate()
}

var validate = validator.New()

// Validate rejects settings that would make polling meaningless.
func (c Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q, got %v", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
