package deploy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/axobase001/axobase/db/models"
	"gopkg.in/yaml.v3"
)

// SDL is the compute-provider deployment descriptor, rendered to YAML and
// retained on the Deployment row for audit.
type SDL struct {
	Version    string                    `yaml:"version"`
	Services   map[string]SDLService     `yaml:"services"`
	Profiles   SDLProfiles               `yaml:"profiles"`
	Deployment map[string]map[string]any `yaml:"deployment"`
}

type SDLService struct {
	Image  string      `yaml:"image"`
	Expose []SDLExpose `yaml:"expose"`
	Env    []string    `yaml:"env"`
}

type SDLExpose struct {
	Port int              `yaml:"port"`
	As   int              `yaml:"as"`
	To   []map[string]any `yaml:"to"`
}

type SDLProfiles struct {
	Compute   map[string]SDLCompute `yaml:"compute"`
	Placement map[string]any        `yaml:"placement"`
}

type SDLCompute struct {
	Resources SDLResources `yaml:"resources"`
}

type SDLResources struct {
	CPU     map[string]any `yaml:"cpu"`
	Memory  map[string]any `yaml:"memory"`
	Storage map[string]any `yaml:"storage"`
}

const botImage = "ghcr.io/axobase/bot-runtime:latest"

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// RenderManifest templates the provisioning descriptor from the soul's
// attributes. The service name embeds a short form of the memory hash so
// provider-side resources are traceable to the soul.
func RenderManifest(soul models.Soul, network string) ([]byte, error) {
	if strings.TrimSpace(soul.WalletAddress) == "" {
		return nil, fmt.Errorf("soul %d has no wallet address", soul.ID)
	}
	name := serviceName(soul.MemoryHash)

	doc := SDL{
		Version: "2.0",
		Services: map[string]SDLService{
			name: {
				Image: botImage,
				Expose: []SDLExpose{
					{Port: 8080, As: 80, To: []map[string]any{{"global": true}}},
				},
				Env: []string{
					"STORAGE_ID=" + soul.StorageID,
					"BOT_WALLET_ADDRESS=" + soul.WalletAddress,
					"NETWORK=" + network,
					"LOG_LEVEL=info",
				},
			},
		},
		Profiles: SDLProfiles{
			Compute: map[string]SDLCompute{
				name: {
					Resources: SDLResources{
						CPU:     map[string]any{"units": 0.5},
						Memory:  map[string]any{"size": "512Mi"},
						Storage: map[string]any{"size": "1Gi"},
					},
				},
			},
			Placement: map[string]any{
				"dcloud": map[string]any{
					"pricing": map[string]any{
						name: map[string]any{"denom": "uakt", "amount": 100},
					},
				},
			},
		},
		Deployment: map[string]map[string]any{
			name: {
				"dcloud": map[string]any{"profile": name, "count": 1},
			},
		},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("render manifest: %w", err)
	}
	return out, nil
}

func serviceName(memoryHash string) string {
	short := memoryHash
	if len(short) > 8 {
		short = short[:8]
	}
	short = strings.ToLower(nonAlnum.ReplaceAllString(short, ""))
	if short == "" {
		short = "soul"
	}
	return "axo-bot-" + short
}
