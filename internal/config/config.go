// Package config loads the environment-style configuration described in
// SPEC_FULL.md §6 via spf13/viper, and optionally overlays secrets read
// from Vault using the same SecretManager shape the teacher's services
// use (packages/go-core/config/vault.go in the source monorepo).
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	keyStoreURL            = "STORE_URL"
	keyStoreSchema         = "STORE_SCHEMA"
	keyPublisherDIDs       = "PUBLISHER_DIDS"
	keyPLCDirectoryURL     = "PLC_DIRECTORY_URL"
	keyStateStorePath      = "STATE_STORE_PATH"
	keyModServiceDID       = "MOD_SERVICE_DID"
	keyDataplaneURLs       = "DATAPLANE_URLS"
	keyDataplaneHTTPVer    = "DATAPLANE_HTTP_VERSION"
	keyChangeFeedURL       = "CHANGE_FEED_URL"
	keyLogLevel            = "LOG_LEVEL"
	keyVaultAddr           = "VAULT_ADDR"
	keyVaultToken          = "VAULT_TOKEN"
	keyVaultSecretPath     = "VAULT_SECRET_PATH"
)

const defaultChangeFeedURL = "wss://jetstream.atproto.tools/subscribe"

// Config is the fully validated, process-wide configuration (spec.md §6).
type Config struct {
	StoreURL      string
	StoreSchema   string
	PublisherDIDs []string

	PLCDirectoryURL string
	StateStorePath  string

	ModServiceDID        string
	DataplaneURLs        []string
	DataplaneHTTPVersion string

	ChangeFeedURL string
	LogLevel      string

	VaultAddr       string
	VaultToken      string
	VaultSecretPath string
}

// Load reads configuration from the environment (and, for keys not set in
// the environment, from their defaults), then validates it. Any failure
// here is a Config error per spec.md §7: fatal at startup.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(keyStoreSchema, "bsky")
	v.SetDefault(keyPLCDirectoryURL, "https://plc.directory")
	v.SetDefault(keyStateStorePath, "./muncher-state.sqlite")
	v.SetDefault(keyDataplaneHTTPVer, "1.1")
	v.SetDefault(keyChangeFeedURL, defaultChangeFeedURL)
	v.SetDefault(keyLogLevel, "info")

	cfg := Config{
		StoreURL:             v.GetString(keyStoreURL),
		StoreSchema:          v.GetString(keyStoreSchema),
		PublisherDIDs:        splitNonEmpty(v.GetString(keyPublisherDIDs)),
		PLCDirectoryURL:      v.GetString(keyPLCDirectoryURL),
		StateStorePath:       v.GetString(keyStateStorePath),
		ModServiceDID:        v.GetString(keyModServiceDID),
		DataplaneURLs:        splitNonEmpty(v.GetString(keyDataplaneURLs)),
		DataplaneHTTPVersion: v.GetString(keyDataplaneHTTPVer),
		ChangeFeedURL:        v.GetString(keyChangeFeedURL),
		LogLevel:             v.GetString(keyLogLevel),
		VaultAddr:            v.GetString(keyVaultAddr),
		VaultToken:           v.GetString(keyVaultToken),
		VaultSecretPath:      v.GetString(keyVaultSecretPath),
	}

	if err := cfg.applyVaultOverlay(); err != nil {
		return Config{}, fmt.Errorf("vault config overlay: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.StoreURL == "" {
		return fmt.Errorf("config: %s is required", keyStoreURL)
	}
	if len(c.PublisherDIDs) == 0 {
		return fmt.Errorf("config: %s must list at least one publisher DID", keyPublisherDIDs)
	}
	if c.DataplaneHTTPVersion != "1.1" && c.DataplaneHTTPVersion != "2" {
		return fmt.Errorf("config: %s must be \"1.1\" or \"2\", got %q", keyDataplaneHTTPVer, c.DataplaneHTTPVersion)
	}
	if c.ModServiceDID != "" && len(c.DataplaneURLs) == 0 {
		return fmt.Errorf("config: %s is required when %s is set", keyDataplaneURLs, keyModServiceDID)
	}
	return nil
}

// applyVaultOverlay reads STORE_URL/DATAPLANE_URLS from Vault KV v2 when
// Vault connection details are configured, overriding plaintext env values
// with secret-manager-sourced ones. It is a no-op unless all three Vault
// keys are set (SPEC_FULL.md §6).
func (c *Config) applyVaultOverlay() error {
	if c.VaultAddr == "" || c.VaultToken == "" || c.VaultSecretPath == "" {
		return nil
	}

	mgr, err := NewSecretManager(c.VaultAddr, c.VaultToken)
	if err != nil {
		return err
	}

	secrets, err := mgr.GetKV2(c.VaultSecretPath)
	if err != nil {
		return err
	}

	if v, ok := secrets["STORE_URL"].(string); ok && v != "" {
		c.StoreURL = v
	}
	if v, ok := secrets["DATAPLANE_URLS"].(string); ok && v != "" {
		c.DataplaneURLs = splitNonEmpty(v)
	}
	return nil
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
