package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "us-east-1", c.Region)
	assert.Equal(t, 500*time.Millisecond, c.PollInterval)
	assert.Equal(t, 600, c.ActivationAttempts)
	assert.Equal(t, 5*time.Minute, c.ActivationTimeout())
	assert.Equal(t, "release", c.Stage)
}

func TestOverlay(t *testing.T) {
	env := map[string]string{
		EnvRegion:             "eu-west-1",
		EnvPollInterval:       "2s",
		EnvActivationAttempts: "10",
		EnvStage:              "prod",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	c, err := Default().overlay(lookup)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", c.Region)
	assert.Equal(t, 2*time.Second, c.PollInterval)
	assert.Equal(t, 10, c.ActivationAttempts)
	assert.Equal(t, "prod", c.Stage)
	assert.Equal(t, DefaultNamePrefix, c.NamePrefix)
}

func TestOverlayRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		EnvPollInterval:       "soon",
		EnvActivationAttempts: "many",
		EnvDeleteTimeout:      "-1s",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == key {
					return val, true
				}
				return "", false
			}
			_, err := Default().overlay(lookup)
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{name: "no region", edit: func(c *Config) { c.Region = "" }, field: "Region"},
		{name: "zero interval", edit: func(c *Config) { c.PollInterval = 0 }, field: "PollInterval"},
		{name: "negative attempts", edit: func(c *Config) { c.ActivationAttempts = -1 }, field: "ActivationAttempts"},
		{name: "negative delete timeout", edit: func(c *Config) { c.DeleteTimeout = -time.Second }, field: "DeleteTimeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.edit(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	require.NoError(t, Default().Validate())
}
