// Package deploy bridges the upload path and the event path into compute
// provisioning.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/axobase001/axobase/db/models"
	"github.com/axobase001/axobase/internal/contenthash"
	"github.com/axobase001/axobase/ledger"
	"github.com/axobase001/axobase/observability"
	"github.com/axobase001/axobase/storage"
	"github.com/axobase001/axobase/vault"
)

var (
	// ErrSessionInvalid covers expired, consumed and unknown sessions.
	// The fix is always the same: request a new export.
	ErrSessionInvalid = errors.New("deploy: session expired or already used")

	// ErrBadPayload means the ciphertext did not decrypt under the
	// session key.
	ErrBadPayload = errors.New("deploy: payload could not be decrypted")
)

// ProvisionError is a terminal provisioning failure. The deployment id is
// surfaced so a support escalation can find the audit row.
type ProvisionError struct {
	DeploymentID uint
	Err          error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("deploy: provisioning failed (deployment %d): %v", e.DeploymentID, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

type Coordinator struct {
	store    *ledger.Store
	vault    *vault.Vault
	uploader storage.Uploader
	provider Provider
	log      *slog.Logger

	network      string
	initialFunds int64
}

type CoordinatorConfig struct {
	Network      string `mapstructure:"network"`
	InitialFunds int64  `mapstructure:"initial_funds"`
}

func NewCoordinator(store *ledger.Store, v *vault.Vault, up storage.Uploader, p Provider, cfg CoordinatorConfig, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	network := cfg.Network
	if network == "" {
		network = "base-sepolia-testnet"
	}
	return &Coordinator{
		store:        store,
		vault:        v,
		uploader:     up,
		provider:     p,
		log:          log.With("component", "coordinator"),
		network:      network,
		initialFunds: cfg.InitialFunds,
	}
}

// AcceptUpload consumes the session key, decrypts the export, uploads it
// to permanent storage and records the soul. Resubmitting content that was
// already accepted returns the existing soul untouched with created=false:
// the same memory must never be provisioned twice.
func (c *Coordinator) AcceptUpload(ctx context.Context, ownerID, sessionID string, ciphertext []byte) (models.Soul, bool, error) {
	priv, err := c.vault.Consume(sessionID)
	if err != nil {
		return models.Soul{}, false, ErrSessionInvalid
	}
	plain, err := vault.Decrypt(priv, ciphertext)
	if err != nil {
		return models.Soul{}, false, ErrBadPayload
	}

	memoryHash := contenthash.Hex(plain)
	c.log.Info("upload accepted", "owner_id", ownerID, "memory_hash", memoryHash, "size", len(plain))

	// Cheap pre-check to skip the storage upload on resubmission; the
	// upsert below remains the authoritative guard.
	if existing, ok, err := c.store.SoulByHash(ctx, memoryHash); err != nil {
		return models.Soul{}, false, err
	} else if ok {
		c.log.Info("duplicate upload, returning existing soul", "soul_id", existing.ID)
		return existing, false, nil
	}

	storageID, err := c.uploader.Upload(ctx, plain, "application/json", map[string]string{
		"App-Name":    "Axobase",
		"Memory-Hash": memoryHash,
		"Network":     c.network,
	})
	if err != nil {
		return models.Soul{}, false, fmt.Errorf("store export: %w", err)
	}

	soul, created, err := c.store.UpsertSoulByHash(ctx, memoryHash, ledger.SoulAttrs{
		Status:       models.SoulUploaded,
		StorageID:    storageID,
		InitialFunds: c.initialFunds,
	})
	if err != nil {
		return models.Soul{}, false, err
	}
	if created {
		c.log.Info("soul created", "soul_id", soul.ID, "storage_id", storageID)
	}
	return soul, created, nil
}

// OnSoulRegistered runs one provisioning attempt for a freshly registered
// soul. The REGISTERED→DEPLOYING guard makes concurrent or duplicate
// triggers collapse to a single attempt.
func (c *Coordinator) OnSoulRegistered(ctx context.Context, soulID uint) error {
	soul, err := c.store.SoulByID(ctx, soulID)
	if err != nil {
		return err
	}

	manifest, err := RenderManifest(soul, c.network)
	if err != nil {
		return fmt.Errorf("soul %d: %w", soulID, err)
	}
	dep, err := c.store.CreateDeployment(ctx, soulID, string(manifest))
	if err != nil {
		return err
	}

	if err := c.store.Transition(ctx, soulID, models.SoulRegistered, models.SoulDeploying); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			// Another attempt won the guard; retire this row quietly.
			c.log.Info("provisioning superseded", "soul_id", soulID, "deployment_id", dep.ID)
			return c.store.FailDeployment(ctx, dep.ID, "superseded: soul left REGISTERED before this attempt started")
		}
		return err
	}

	res, err := c.provider.CreateDeployment(ctx, manifest)
	if err != nil {
		return c.failProvisioning(ctx, soulID, dep.ID, err)
	}

	if err := c.store.CompleteDeployment(ctx, dep.ID, res.TxHash, res.ProviderAddress, res.LeasePrice); err != nil {
		return err
	}
	if err := c.store.SetDeploymentURI(ctx, soulID, res.URI); err != nil {
		return err
	}
	if err := c.store.Transition(ctx, soulID, models.SoulDeploying, models.SoulDeployed); err != nil && !errors.Is(err, ledger.ErrConflict) {
		return err
	}
	observability.RecordDeployment("deployed")
	c.log.Info("soul deployed", "soul_id", soulID, "deployment_id", dep.ID, "uri", res.URI)
	return nil
}

func (c *Coordinator) failProvisioning(ctx context.Context, soulID, depID uint, cause error) error {
	if err := c.store.FailDeployment(ctx, depID, cause.Error()); err != nil {
		c.log.Error("recording provisioning failure", "deployment_id", depID, "error", err)
	}
	if err := c.store.Transition(ctx, soulID, models.SoulDeploying, models.SoulError); err != nil && !errors.Is(err, ledger.ErrConflict) {
		c.log.Error("marking soul errored", "soul_id", soulID, "error", err)
	}
	observability.RecordDeployment("failed")
	return &ProvisionError{DeploymentID: depID, Err: cause}
}

// CloseDeployment is the operator-initiated teardown: the provider lease
// is closed, the deployment row becomes CLOSED and the soul goes DORMANT.
func (c *Coordinator) CloseDeployment(ctx context.Context, deploymentID uint) error {
	dep, err := c.store.DeploymentByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	ref := dep.ProviderTxHash
	if ref == "" {
		ref = strconv.FormatUint(uint64(dep.ID), 10)
	}
	if err := c.provider.CloseDeployment(ctx, ref); err != nil {
		return err
	}
	if err := c.store.CloseDeployment(ctx, dep.ID); err != nil {
		return err
	}
	if err := c.store.TransitionAny(ctx, dep.SoulID, models.SoulDormant); err != nil && !errors.Is(err, ledger.ErrConflict) {
		return err
	}
	observability.RecordDeployment("closed")
	c.log.Info("deployment closed", "deployment_id", dep.ID, "soul_id", dep.SoulID)
	return nil
}
