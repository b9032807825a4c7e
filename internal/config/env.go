package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnvOverrides layers environment variables over the YAML values.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Payment.PayToAddress, "PAY_TO_ADDRESS")
	setIfEnv(&c.Payment.Network, "BASE_NETWORK")
	setIfEnv(&c.Payment.FacilitatorURL, "FACILITATOR_URL")
	setIfEnv(&c.Payment.FacilitatorKeyID, "FACILITATOR_KEY_ID")
	setIfEnv(&c.Payment.FacilitatorKeySecret, "FACILITATOR_KEY_SECRET")

	setIntIfEnv(&c.Server.Port, "PORT")
	setIfEnv(&c.Server.PublicURL, "PUBLIC_URL")
	setIfEnv(&c.Server.AdminKey, "ADMIN_KEY")
	setIfEnv(&c.Server.APIKey, "API_KEY")

	setIfEnv(&c.Routes.File, "ROUTES_FILE")
	setIfEnv(&c.Routes.BlocklistFile, "BLOCKLIST_FILE")

	if v := os.Getenv("REPLAY_TTL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.Replay.TTL.Duration = time.Duration(ms) * time.Millisecond
		}
	}

	setIfEnv(&c.Logging.Level, "LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "LOG_FORMAT")

	setBoolIfEnv(&c.Anchor.Enabled, "ANCHOR_ENABLED")
	setIfEnv(&c.Anchor.RPCURL, "ANCHOR_RPC_URL")
	setIfEnv(&c.Anchor.PrivateKeyHex, "ANCHOR_PRIVATE_KEY")
	setInt64IfEnv(&c.Anchor.ChainID, "ANCHOR_CHAIN_ID")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setIntIfEnv(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64IfEnv(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBoolIfEnv(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
