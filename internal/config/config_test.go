package config

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("info"))
	assert.Equal(t, zerolog.WarnLevel, parseLogLevel("warn"))
	assert.Equal(t, zerolog.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLogLevel("garbage"))
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, 8099, cfg.Port)
	assert.Equal(t, 1, cfg.PollIntervalSeconds)
	assert.Equal(t, "http://homeassistant:8123", cfg.HomeAssistantURL)
	assert.Equal(t, "data/ha_token.txt", cfg.TokenFile)
	assert.Equal(t, 2.0, cfg.DripperFlowRate)
	assert.Equal(t, 2, cfg.DrippersPerPlant)
	assert.Equal(t, "irrigation.", cfg.DDNamespace)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{Port: 9000, PollIntervalSeconds: 5, DripperFlowRate: 1.5}
	cfg.applyDefaults()

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5, cfg.PollIntervalSeconds)
	assert.Equal(t, 1.5, cfg.DripperFlowRate)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	assert.NotPanics(t, func() { cfg.validate() })

	bad := &Config{Port: 70000, PollIntervalSeconds: 1, DripperFlowRate: 2.0, DrippersPerPlant: 2}
	assert.Panics(t, func() { bad.validate() })

	bad = &Config{Port: 8099, PollIntervalSeconds: 0}
	assert.Panics(t, func() { bad.validate() })

	bad = &Config{Port: 8099, PollIntervalSeconds: 1, EnableDatadog: true}
	assert.Panics(t, func() { bad.validate() })
}
