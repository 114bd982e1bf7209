// Package storage is the permanent-storage collaborator: it puts the
// exported memory blob somewhere durable and returns a storage id.
package storage

import (
	"context"
	"time"
)

type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string, tags map[string]string) (string, error)
}

type Config struct {
	GatewayURL string        `mapstructure:"gateway_url"`
	Production bool          `mapstructure:"production"`
	Timeout    time.Duration `mapstructure:"timeout"`
}
