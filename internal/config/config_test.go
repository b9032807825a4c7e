package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadEnvOnly(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", "0x9999999999999999999999999999999999999999")
	t.Setenv("PORT", "8402")
	t.Setenv("BASE_NETWORK", "base")
	t.Setenv("REPLAY_TTL_MS", "60000")
	t.Setenv("ADMIN_KEY", "admin-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "0x9999999999999999999999999999999999999999", cfg.Payment.PayToAddress)
	require.Equal(t, 8402, cfg.Server.Port)
	require.Equal(t, ":8402", cfg.ListenAddr())
	require.Equal(t, "base", cfg.Payment.Network)
	require.Equal(t, time.Minute, cfg.Replay.TTL.Duration)
	require.Equal(t, "admin-secret", cfg.Server.AdminKey)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", "0x9999999999999999999999999999999999999999")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 4402, cfg.Server.Port)
	require.Equal(t, "base-sepolia", cfg.Payment.Network)
	require.Equal(t, "https://x402.org/facilitator", cfg.Payment.FacilitatorURL)
	require.Equal(t, 5*time.Minute, cfg.Replay.TTL.Duration)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadMissingPayToFatal(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "pay_to_address")
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	doc := `
server:
  port: 9000
  read_timeout: 10s
payment:
  pay_to_address: "0x1111111111111111111111111111111111111111"
  network: base
replay:
  ttl: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	// Env wins over YAML.
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, "0x1111111111111111111111111111111111111111", cfg.Payment.PayToAddress)
	require.Equal(t, 10*time.Second, cfg.Server.ReadTimeout.Duration)
	require.Equal(t, 2*time.Minute, cfg.Replay.TTL.Duration)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", "0x9999999999999999999999999999999999999999")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
}

func TestAnchorValidation(t *testing.T) {
	t.Setenv("PAY_TO_ADDRESS", "0x9999999999999999999999999999999999999999")
	t.Setenv("ANCHOR_ENABLED", "true")

	_, err := Load("")
	require.Error(t, err)

	t.Setenv("ANCHOR_RPC_URL", "https://sepolia.base.org")
	t.Setenv("ANCHOR_PRIVATE_KEY", "aa")
	t.Setenv("ANCHOR_CHAIN_ID", "84532")

	cfg, err := Load("")
	require.NoError(t, err)
	require.True(t, cfg.Anchor.Enabled)
	require.EqualValues(t, 84532, cfg.Anchor.ChainID)
}
