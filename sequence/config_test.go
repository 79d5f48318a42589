package sequence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/forestrie/go-snowflake/snowflakeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		want    Config
		wantErr error
	}{
		{
			name: "defaults",
			env:  map[string]string{"FLAKE_DATA_DIR": "/var/lib/flake"},
			want: DefaultConfig("/var/lib/flake"),
		},
		{
			name: "everything",
			env: map[string]string{
				"FLAKE_DATA_DIR":            "/data",
				"FLAKE_NODE":                "0",
				"FLAKE_NODE_CIDR":           "10.0.0.0/24",
				"FLAKE_POD_IP":              "10.0.0.5",
				"FLAKE_CHECKPOINT_INTERVAL": "30s",
				"FLAKE_MAX_SEGMENT_RECORDS": "64",
			},
			want: Config{
				DataDir: "/data",
				Snowflake: snowflakeid.Config{
					Node:       0,
					WorkerCIDR: "10.0.0.0/24",
					PodIP:      "10.0.0.5",
					AllowSpins: snowflakeid.MaxSpins,
				},
				CheckpointInterval: 30 * time.Second,
				MaxSegmentRecords:  64,
			},
		},
		{
			name:    "no data dir",
			env:     map[string]string{"FLAKE_NODE": "1"},
			wantErr: ErrBadConfig,
		},
		{
			name:    "bad node",
			env:     map[string]string{"FLAKE_DATA_DIR": "/data", "FLAKE_NODE": "seven"},
			wantErr: ErrBadConfig,
		},
		{
			name:    "node out of range",
			env:     map[string]string{"FLAKE_DATA_DIR": "/data", "FLAKE_NODE": "1024"},
			wantErr: snowflakeid.ErrNodeRange,
		},
		{
			name:    "bad interval",
			env:     map[string]string{"FLAKE_DATA_DIR": "/data", "FLAKE_CHECKPOINT_INTERVAL": "often"},
			wantErr: ErrBadConfig,
		},
		{
			name:    "bad segment size",
			env:     map[string]string{"FLAKE_DATA_DIR": "/data", "FLAKE_MAX_SEGMENT_RECORDS": "0"},
			wantErr: ErrBadConfig,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"FLAKE_DATA_DIR", "FLAKE_NODE", "FLAKE_NODE_CIDR", "FLAKE_POD_IP", "FLAKE_CHECKPOINT_INTERVAL", "FLAKE_MAX_SEGMENT_RECORDS"} {
				t.Setenv(k, tt.env[k])
			}
			got, err := ConfigFromEnv()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfigPaths(t *testing.T) {
	cfg := DefaultConfig("/data")
	assert.Equal(t, filepath.Join("/data", "pages.db"), cfg.PageFilePath())
	assert.Equal(t, filepath.Join("/data", "wal"), cfg.WALDir())
}
