package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("CRAWL_PAGE_SIZE", "25")
	t.Setenv("CRAWL_LANGUAGES", "en-US, es-US ,")
	t.Setenv("PIPELINE_AUTO_CONTINUE", "true")
	t.Setenv("WATCHDOG_STALL_THRESHOLD", "90s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "testhost", cfg.Database.Postgres.Host)
	assert.Equal(t, 25, cfg.Crawl.PageSize)
	assert.Equal(t, []string{"en-US", "es-US"}, cfg.Crawl.Languages)
	assert.True(t, cfg.Pipeline.AutoContinue)
	assert.Equal(t, 90*time.Second, cfg.Watchdog.StallThreshold)
}

func TestLoadConfig_RejectsNonPositivePageSize(t *testing.T) {
	t.Setenv("CRAWL_PAGE_SIZE", "0")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRAWL_PAGE_SIZE")
}

func TestGetEnvHelpers(t *testing.T) {
	tests := []struct {
		name string
		set  string
		run  func() interface{}
		want interface{}
	}{
		{"int falls back on garbage", "abc", func() interface{} { return getEnvAsInt("TEST_VALUE", 7) }, 7},
		{"int parses", "12", func() interface{} { return getEnvAsInt("TEST_VALUE", 7) }, 12},
		{"bool parses", "1", func() interface{} { return getEnvAsBool("TEST_VALUE", false) }, true},
		{"duration falls back", "soon", func() interface{} { return getEnvAsDuration("TEST_VALUE", time.Minute) }, time.Minute},
		{"float parses", "2.5", func() interface{} { return getEnvAsFloat("TEST_VALUE", 1) }, 2.5},
		{"list of blanks falls back", " , ", func() interface{} { return getEnvAsList("TEST_VALUE", []string{"x"}) }, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_VALUE", tt.set)
			assert.Equal(t, tt.want, tt.run())
		})
	}
}

func TestPostgresConfig_URL(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5432", Database: "dir", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/dir?sslmode=disable", cfg.URL())
}
