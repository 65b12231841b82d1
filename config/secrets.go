package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves secrets by key.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return v, nil
}

// GetWithDefault returns def when key is not set.
func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// Secret keys read by LoadSecrets.
const (
	SecretSQLDSN        = "QUESTKIT_SQL_DSN"
	SecretRedisPassword = "QUESTKIT_REDIS_PASSWORD"
	SecretWebhookSecret = "QUESTKIT_WEBHOOK_SECRET"
	SecretAPIKeys       = "QUESTKIT_API_KEYS"
)

// LoadSecretsFromEnv fills secret fields from the environment.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}

// LoadSecrets fills credential fields from store. Missing secrets leave the
// field untouched; a sql adapter without any DSN is an error.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	lookup := func(key string, dst *string) error {
		v, err := store.Get(ctx, key)
		if errors.Is(err, ErrSecretNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load secret %s: %w", key, err)
		}
		*dst = v
		return nil
	}

	if err := lookup(SecretSQLDSN, &c.Storage.SQL.DSN); err != nil {
		return err
	}
	if err := lookup(SecretRedisPassword, &c.Storage.Redis.Password); err != nil {
		return err
	}
	if err := lookup(SecretWebhookSecret, &c.Webhooks.Secret); err != nil {
		return err
	}
	var keys string
	if err := lookup(SecretAPIKeys, &keys); err != nil {
		return err
	}
	for _, k := range strings.Split(keys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			c.Security.APIKeys = append(c.Security.APIKeys, k)
		}
	}

	if c.Storage.Adapter == "sql" && c.Storage.SQL.DSN == "" {
		return fmt.Errorf("storage adapter sql requires %s", SecretSQLDSN)
	}
	return nil
}
