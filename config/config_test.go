package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "indemnity.db", cfg.DBDSN)
	assert.Equal(t, 15, cfg.SLADays)
	assert.Equal(t, time.Hour, cfg.SLACheckInterval)
	assert.Equal(t, "indemnity.transitions", cfg.EventsQueue)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.RabbitMQURL)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("PORT", "9000")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://localhost/indemnity")
	t.Setenv("SLA_DAYS", "10")
	t.Setenv("CORS_ORIGINS", " https://backoffice.example , ")

	t.Setenv("SLA_CHECK_INTERVAL", "30m")

	cfg, err := Load([]string{"-port", "3000", "-sla-days", "20", "-schedules", "partners.json"})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/indemnity", cfg.DBDSN)
	assert.Equal(t, 20, cfg.SLADays)
	assert.Equal(t, 30*time.Minute, cfg.SLACheckInterval)
	assert.Equal(t, "partners.json", cfg.RateSchedules)
	assert.Equal(t, []string{"https://backoffice.example"}, cfg.CORSOrigins)
}

func TestLoad_Refusals(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}},
		{name: "bad driver", env: map[string]string{"DB_DRIVER": "mysql"}},
		{name: "bad port", env: map[string]string{"PORT": "eighty"}},
		{name: "zero sla", args: []string{"-sla-days", "0"}},
		{name: "negative sla interval", args: []string{"-sla-interval", "-1m"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "bad log format", env: map[string]string{"LOG_FORMAT": "xml"}},
		{name: "unknown flag", args: []string{"-verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "text")
	cfg, err := Load(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "claim_id", "C-1")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "claim_id=C-1")
}
