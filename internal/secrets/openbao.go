// Package secrets optionally loads merchant credentials from an OpenBao KV
// store before configuration is read.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrSecretNotFound signals a missing KV path.
var ErrSecretNotFound = errors.New("openbao secret path not found")

// Bootstrap reads the configured KV path (typically holding BML_MERCHANT_ID,
// BML_API_KEY, and ADMIN_API_TOKEN) and exports each entry as an environment
// variable so config.Load picks it up. When OpenBao is not configured the
// function is a no-op, keeping plain-env deployments working.
func Bootstrap(ctx context.Context) error {
	cfg := fromEnv()
	if !cfg.enabled {
		return nil
	}

	values, err := fetch(ctx, cfg)
	if err != nil {
		return err
	}
	for k, v := range values {
		_ = os.Setenv(k, v)
	}
	return nil
}

type baoConfig struct {
	addr      string
	token     string
	mount     string
	path      string
	namespace string
	enabled   bool
}

func fromEnv() baoConfig {
	addr := strings.TrimSpace(os.Getenv("OPENBAO_ADDR"))
	token := os.Getenv("OPENBAO_TOKEN")
	path := strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_SECRET_PATH")), "/")
	if addr == "" || token == "" || path == "" {
		return baoConfig{enabled: false}
	}

	mount := strings.Trim(strings.TrimSpace(os.Getenv("OPENBAO_MOUNT")), "/")
	if mount == "" {
		mount = "secret"
	}

	return baoConfig{
		addr:      strings.TrimRight(addr, "/"),
		token:     token,
		mount:     mount,
		path:      path,
		namespace: strings.TrimSpace(os.Getenv("OPENBAO_NAMESPACE")),
		enabled:   true,
	}
}

func fetch(ctx context.Context, cfg baoConfig) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/%s/data/%s", cfg.addr, cfg.mount, cfg.path), nil)
	if err != nil {
		return nil, fmt.Errorf("create OpenBao request: %w", err)
	}
	req.Header.Set("X-Vault-Token", cfg.token)
	if cfg.namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.namespace)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call OpenBao: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrSecretNotFound
	default:
		return nil, fmt.Errorf("openbao request failed: status=%d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode OpenBao response: %w", err)
	}

	out := make(map[string]string, len(payload.Data.Data))
	for k, v := range payload.Data.Data {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}
