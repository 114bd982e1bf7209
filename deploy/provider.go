package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Provider is the compute-provisioning collaborator. Both calls are
// fallible remote operations; the coordinator performs no automatic retry,
// recovery is an explicit re-provisioning request.
type Provider interface {
	CreateDeployment(ctx context.Context, manifest []byte) (CreateResult, error)
	CloseDeployment(ctx context.Context, ref string) error
}

type CreateResult struct {
	TxHash          string  `json:"tx_hash"`
	ProviderAddress string  `json:"provider_address"`
	LeasePrice      float64 `json:"lease_price"`
	URI             string  `json:"uri"`
}

type ProviderConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// BridgeProvider talks to an Akash provider bridge: a small service that
// owns the provider wallet and turns a rendered SDL into a lease.
type BridgeProvider struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger
}

func NewBridgeProvider(cfg ProviderConfig, log *slog.Logger) (*BridgeProvider, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("provider.endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &BridgeProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log.With("component", "provider"),
	}, nil
}

func (p *BridgeProvider) CreateDeployment(ctx context.Context, manifest []byte) (CreateResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/deployments", bytes.NewReader(manifest))
	if err != nil {
		return CreateResult{}, err
	}
	req.Header.Set("Content-Type", "application/yaml")

	resp, err := p.client.Do(req)
	if err != nil {
		return CreateResult{}, fmt.Errorf("create deployment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CreateResult{}, fmt.Errorf("create deployment: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out CreateResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return CreateResult{}, fmt.Errorf("create deployment: decode response: %w", err)
	}
	if strings.TrimSpace(out.URI) == "" {
		return CreateResult{}, fmt.Errorf("create deployment: provider returned no uri")
	}
	return out, nil
}

func (p *BridgeProvider) CloseDeployment(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Errorf("close deployment: empty ref")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.endpoint+"/deployments/"+ref, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("close deployment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("close deployment: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
