package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ArweaveUploader posts blobs to an Arweave bundler gateway. Outside
// production an upload failure degrades to a locally derived placeholder
// id instead of failing the whole export; in production the error
// propagates.
type ArweaveUploader struct {
	gatewayURL string
	production bool
	client     *http.Client
	log        *slog.Logger
}

func NewArweaveUploader(cfg Config, log *slog.Logger) *ArweaveUploader {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &ArweaveUploader{
		gatewayURL: strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/"),
		production: cfg.Production,
		client:     &http.Client{Timeout: timeout},
		log:        log.With("component", "storage"),
	}
}

type uploadRequest struct {
	Data        string            `json:"data"`
	ContentType string            `json:"content_type"`
	Tags        map[string]string `json:"tags,omitempty"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

func (u *ArweaveUploader) Upload(ctx context.Context, data []byte, contentType string, tags map[string]string) (string, error) {
	id, err := u.upload(ctx, data, contentType, tags)
	if err == nil {
		return id, nil
	}
	if u.production {
		return "", fmt.Errorf("storage upload: %w", err)
	}
	placeholder := Placeholder(data)
	u.log.Warn("storage upload failed, using placeholder id", "error", err, "storage_id", placeholder)
	return placeholder, nil
}

func (u *ArweaveUploader) upload(ctx context.Context, data []byte, contentType string, tags map[string]string) (string, error) {
	if u.gatewayURL == "" {
		return "", fmt.Errorf("no gateway configured")
	}
	body, err := json.Marshal(uploadRequest{
		Data:        base64.StdEncoding.EncodeToString(data),
		ContentType: contentType,
		Tags:        tags,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.gatewayURL+"/tx", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode gateway response: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("gateway returned empty id")
	}
	return out.ID, nil
}

// Placeholder derives a deterministic stand-in storage id from the content
// itself, matching the length of a real Arweave transaction id.
func Placeholder(data []byte) string {
	sum := sha256.Sum256(data)
	return "mock_" + hex.EncodeToString(sum[:])[:43]
}
