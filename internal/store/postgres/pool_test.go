package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolConfigDefaults(t *testing.T) {
	cfg := &PoolConfig{ConnString: "postgres://localhost/grc"}
	cfg.ApplyDefaults()

	require.Equal(t, int32(20), cfg.MaxConns)
	require.Equal(t, int32(5), cfg.MinConns)
	require.Equal(t, int32(3600), cfg.MaxConnLifetime)
	require.Equal(t, int32(1800), cfg.MaxConnIdleTime)
	require.Equal(t, int32(60), cfg.HealthCheckPeriod)
	require.Equal(t, int32(10), cfg.ConnectTimeout)
	require.Equal(t, int32(30), cfg.StatementTimeout)
	require.Equal(t, "grc", cfg.ApplicationName)
	require.NoError(t, cfg.Validate())
}

func TestPoolConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     PoolConfig
		wantErr string
	}{
		{"missing conn string", PoolConfig{MaxConns: 1}, "connection string is required"},
		{"min above max", PoolConfig{ConnString: "postgres://x", MaxConns: 2, MinConns: 3}, "must not exceed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
