package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenwatch/agentdetect/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Defaults()
	require.True(t, cfg.Enabled)
	require.Equal(t, 30*time.Second, cfg.ReportInterval)
	require.Equal(t, 10, cfg.MinReportScore)
	require.Empty(t, cfg.SessionKey)
	require.False(t, cfg.Debug)
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentdetect.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
report_interval: 10s
min_report_score: 25
session_key: sk-123
transport:
  report_url: https://backend.example/report
`), 0o644))

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.ReportInterval)
	require.Equal(t, 25, cfg.MinReportScore)
	require.Equal(t, "sk-123", cfg.SessionKey)
	require.Equal(t, "https://backend.example/report", cfg.Transport.ReportURL)
	// Fields the file does not mention keep their defaults.
	require.True(t, cfg.Enabled)
	require.Equal(t, "on", cfg.Attach.Stealth)
}

func TestMergeLeavesUnsetFieldsAlone(t *testing.T) {
	base := config.Defaults()
	base.SessionKey = "from-file"

	merged := config.Merge(base, config.Options{ContextID: "41"})
	require.Equal(t, "41", merged.ContextID)
	require.Equal(t, "from-file", merged.SessionKey)
	require.True(t, merged.Enabled)
}

func TestMergePointerFieldsDistinguishExplicitFalse(t *testing.T) {
	disabled := false
	zero := 0

	merged := config.Merge(config.Defaults(), config.Options{
		Enabled:        &disabled,
		MinReportScore: &zero,
	})
	require.False(t, merged.Enabled)
	require.Equal(t, 0, merged.MinReportScore)
}
