package config

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"
)

// SecretManager reads the KV v2 secret that overlays plaintext environment
// configuration, mirroring the secret-overlay pattern the teacher's
// services use for database credentials, scoped here to the handful of
// keys SPEC_FULL.md §6 lets Vault override.
type SecretManager struct {
	client *api.Client
}

// NewSecretManager builds a Vault client against address, authenticated
// with token. Construction itself never talks to Vault; the first read
// happens in GetKV2.
func NewSecretManager(address, token string) (*SecretManager, error) {
	cfg := api.DefaultConfig()
	cfg.Address = address

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client init: %w", err)
	}
	client.SetToken(token)

	return &SecretManager{client: client}, nil
}

// GetKV2 reads path from a KV v2 mount and returns the unwrapped data map
// (KV v2 nests the actual secret under a "data" key alongside metadata).
func (s *SecretManager) GetKV2(path string) (map[string]interface{}, error) {
	secret, err := s.client.Logical().ReadWithContext(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("secret at %s is not a KV v2 payload", path)
	}
	return data, nil
}
