package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/selection"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "clover-api", cfg.AppName)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.True(t, cfg.ReportOnlyOnce)
	assert.Equal(t, 30*time.Minute, cfg.Database().ConnMaxLifetime)
	assert.Equal(t, 100*time.Millisecond, cfg.Kafka().BatchTimeout)
	assert.Equal(t, selection.StrategyBuckets, cfg.Selection().Strategy)
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clover.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\nstore_driver: memory\nwish_method: DBSLeipzig/Plain/Selective\n"), 0o600))
	t.Setenv("PORT", "5000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, "DBSLeipzig/Plain/Selective", cfg.Protocol().WishMethod)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.StoreDriver = "mongo" }, wantErr: true},
		{name: "unknown strategy", mutate: func(c *Config) { c.SelectionStrategy = "RANDOM" }, wantErr: true},
		{name: "uncertainty out of range", mutate: func(c *Config) { c.MinUncertainty = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{StoreDriver: StoreDriverMemory, SelectionStrategy: "SORTED", MinUncertainty: 0.2}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
