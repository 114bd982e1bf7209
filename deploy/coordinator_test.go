package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/axobase001/axobase/db"
	"github.com/axobase001/axobase/db/models"
	"github.com/axobase001/axobase/ledger"
	"github.com/axobase001/axobase/storage"
	"github.com/axobase001/axobase/vault"
)

type fakeUploader struct {
	calls int
	err   error
}

func (f *fakeUploader) Upload(ctx context.Context, data []byte, contentType string, tags map[string]string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return storage.Placeholder(data), nil
}

type fakeProvider struct {
	createCalls int
	closeCalls  int
	closedRefs  []string
	createErr   error
	closeErr    error
}

func (f *fakeProvider) CreateDeployment(ctx context.Context, manifest []byte) (CreateResult, error) {
	f.createCalls++
	if f.createErr != nil {
		return CreateResult{}, f.createErr
	}
	return CreateResult{
		TxHash:          "0xlease",
		ProviderAddress: "akash1provider",
		LeasePrice:      1.75,
		URI:             "https://provider.example/lease/42",
	}, nil
}

func (f *fakeProvider) CloseDeployment(ctx context.Context, ref string) error {
	f.closeCalls++
	f.closedRefs = append(f.closedRefs, ref)
	return f.closeErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	gdb, err := db.Open(context.Background(), db.Config{
		DSN:  ":memory:",
		Pool: db.PoolConfig{MaxOpenConns: 1},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return ledger.NewStore(gdb, discardLogger())
}

type coordFixture struct {
	store    *ledger.Store
	vault    *vault.Vault
	uploader *fakeUploader
	provider *fakeProvider
	coord    *Coordinator
}

func newFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := &coordFixture{
		store:    newTestStore(t),
		vault:    vault.New(vault.Config{TTL: time.Minute, SweepInterval: time.Hour}, discardLogger()),
		uploader: &fakeUploader{},
		provider: &fakeProvider{},
	}
	t.Cleanup(f.vault.Close)
	f.coord = NewCoordinator(f.store, f.vault, f.uploader, f.provider, CoordinatorConfig{
		Network:      "base-sepolia-testnet",
		InitialFunds: 11_000_000,
	}, discardLogger())
	return f
}

// encryptForSession issues a session and returns its id plus the plaintext
// encrypted under the session's public key.
func encryptForSession(t *testing.T, v *vault.Vault, plaintext []byte) (string, []byte) {
	t.Helper()
	id, pubPEM, err := v.Issue("owner-1")
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	pub, err := vault.ParsePublicKeyPEM(pubPEM)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	ciphertext, err := vault.Encrypt(pub, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return id, ciphertext
}

func TestAcceptUpload_CreatesUploadedSoul(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plaintext := []byte(`{"memories":["first walk"]}`)
	sessionID, ciphertext := encryptForSession(t, f.vault, plaintext)

	soul, created, err := f.coord.AcceptUpload(ctx, "owner-1", sessionID, ciphertext)
	if err != nil {
		t.Fatalf("AcceptUpload failed: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if soul.Status != models.SoulUploaded {
		t.Errorf("status = %s, want %s", soul.Status, models.SoulUploaded)
	}
	if !strings.HasPrefix(soul.StorageID, "mock_") {
		t.Errorf("storage id = %q", soul.StorageID)
	}
	if soul.InitialFunds != 11_000_000 {
		t.Errorf("initial funds = %d", soul.InitialFunds)
	}
	if f.uploader.calls != 1 {
		t.Errorf("uploader calls = %d, want 1", f.uploader.calls)
	}
}

func TestAcceptUpload_SessionIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sessionID, ciphertext := encryptForSession(t, f.vault, []byte("export"))
	if _, _, err := f.coord.AcceptUpload(ctx, "owner-1", sessionID, ciphertext); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}

	_, _, err := f.coord.AcceptUpload(ctx, "owner-1", sessionID, ciphertext)
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("want ErrSessionInvalid on reused session, got %v", err)
	}
}

func TestAcceptUpload_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.coord.AcceptUpload(context.Background(), "owner-1", "no-such-session", []byte("x"))
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("want ErrSessionInvalid, got %v", err)
	}
}

func TestAcceptUpload_WrongKeyCiphertext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Ciphertext made under a different session's key.
	_, foreign := encryptForSession(t, f.vault, []byte("export"))
	sessionID, _, err := f.vault.Issue("owner-1")
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	_, _, err = f.coord.AcceptUpload(ctx, "owner-1", sessionID, foreign)
	if !errors.Is(err, ErrBadPayload) {
		t.Fatalf("want ErrBadPayload, got %v", err)
	}
}

func TestAcceptUpload_DuplicateContentSkipsStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plaintext := []byte(`{"memories":["only one of me"]}`)
	sessionID, ciphertext := encryptForSession(t, f.vault, plaintext)
	first, created, err := f.coord.AcceptUpload(ctx, "owner-1", sessionID, ciphertext)
	if err != nil || !created {
		t.Fatalf("first upload: created=%v err=%v", created, err)
	}

	// Same content under a fresh session: encrypted bytes differ, the
	// decrypted hash does not.
	sessionID2, ciphertext2 := encryptForSession(t, f.vault, plaintext)
	second, created, err := f.coord.AcceptUpload(ctx, "owner-2", sessionID2, ciphertext2)
	if err != nil {
		t.Fatalf("second upload failed: %v", err)
	}
	if created {
		t.Fatal("expected created=false for duplicate content")
	}
	if second.ID != first.ID {
		t.Errorf("duplicate mapped to soul %d, want %d", second.ID, first.ID)
	}
	if f.uploader.calls != 1 {
		t.Errorf("uploader calls = %d, want 1 (dup must skip storage)", f.uploader.calls)
	}
}

func seedRegisteredSoul(t *testing.T, store *ledger.Store) models.Soul {
	t.Helper()
	ctx := context.Background()
	soul, _, err := store.UpsertSoulByHash(ctx, "feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface", ledger.SoulAttrs{
		Status:    models.SoulRegistered,
		StorageID: "ar-seed",
	})
	if err != nil {
		t.Fatalf("seed soul: %v", err)
	}
	if err := store.SetWalletAddress(ctx, soul.ID, "0xabcdef0123456789abcdef0123456789abcdef01"); err != nil {
		t.Fatalf("seed wallet: %v", err)
	}
	soul, err = store.SoulByID(ctx, soul.ID)
	if err != nil {
		t.Fatalf("reload soul: %v", err)
	}
	return soul
}

func TestOnSoulRegistered_ProvisionsAndDeploys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soul := seedRegisteredSoul(t, f.store)

	if err := f.coord.OnSoulRegistered(ctx, soul.ID); err != nil {
		t.Fatalf("OnSoulRegistered failed: %v", err)
	}

	got, err := f.store.SoulByID(ctx, soul.ID)
	if err != nil {
		t.Fatalf("soul by id: %v", err)
	}
	if got.Status != models.SoulDeployed {
		t.Errorf("status = %s, want %s", got.Status, models.SoulDeployed)
	}
	if got.DeploymentURI != "https://provider.example/lease/42" {
		t.Errorf("deployment uri = %q", got.DeploymentURI)
	}

	deps, err := f.store.DeploymentsBySoul(ctx, soul.ID)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if len(deps) != 1 {
		t.Fatalf("deployments = %d, want 1", len(deps))
	}
	dep := deps[0]
	if dep.Status != models.DeploymentDeployed || dep.ProviderTxHash != "0xlease" {
		t.Errorf("unexpected deployment: %+v", dep)
	}
	if !strings.Contains(dep.ManifestContent, "axo-bot-feedface") {
		t.Errorf("manifest not retained on row: %q", dep.ManifestContent)
	}
	if f.provider.createCalls != 1 {
		t.Errorf("provider calls = %d, want 1", f.provider.createCalls)
	}
}

func TestOnSoulRegistered_ProviderFailureMarksError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soul := seedRegisteredSoul(t, f.store)
	f.provider.createErr = errors.New("no bids received")

	err := f.coord.OnSoulRegistered(ctx, soul.ID)
	var pe *ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("want ProvisionError, got %v", err)
	}

	got, err := f.store.SoulByID(ctx, soul.ID)
	if err != nil {
		t.Fatalf("soul by id: %v", err)
	}
	if got.Status != models.SoulError {
		t.Errorf("status = %s, want %s", got.Status, models.SoulError)
	}

	dep, err := f.store.DeploymentByID(ctx, pe.DeploymentID)
	if err != nil {
		t.Fatalf("deployment by id: %v", err)
	}
	if dep.Status != models.DeploymentFailed {
		t.Errorf("deployment status = %s, want %s", dep.Status, models.DeploymentFailed)
	}
	if !strings.Contains(dep.Logs, "no bids received") {
		t.Errorf("failure reason missing from logs: %q", dep.Logs)
	}
}

func TestOnSoulRegistered_DuplicateTriggerIsSuperseded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soul := seedRegisteredSoul(t, f.store)

	if err := f.coord.OnSoulRegistered(ctx, soul.ID); err != nil {
		t.Fatalf("first trigger failed: %v", err)
	}
	// Second trigger loses the REGISTERED→DEPLOYING guard and must not
	// reach the provider.
	if err := f.coord.OnSoulRegistered(ctx, soul.ID); err != nil {
		t.Fatalf("duplicate trigger errored: %v", err)
	}
	if f.provider.createCalls != 1 {
		t.Errorf("provider calls = %d, want 1", f.provider.createCalls)
	}

	deps, err := f.store.DeploymentsBySoul(ctx, soul.ID)
	if err != nil {
		t.Fatalf("deployments: %v", err)
	}
	if len(deps) != 2 {
		t.Fatalf("deployments = %d, want 2 (winner plus superseded)", len(deps))
	}
}

func TestCloseDeployment_RetiresLeaseAndSoul(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soul := seedRegisteredSoul(t, f.store)

	if err := f.coord.OnSoulRegistered(ctx, soul.ID); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	deps, err := f.store.DeploymentsBySoul(ctx, soul.ID)
	if err != nil || len(deps) != 1 {
		t.Fatalf("deployments: %v (%d)", err, len(deps))
	}

	if err := f.coord.CloseDeployment(ctx, deps[0].ID); err != nil {
		t.Fatalf("CloseDeployment failed: %v", err)
	}
	if f.provider.closeCalls != 1 || f.provider.closedRefs[0] != "0xlease" {
		t.Errorf("provider close: calls=%d refs=%v", f.provider.closeCalls, f.provider.closedRefs)
	}

	dep, err := f.store.DeploymentByID(ctx, deps[0].ID)
	if err != nil {
		t.Fatalf("deployment by id: %v", err)
	}
	if dep.Status != models.DeploymentClosed {
		t.Errorf("deployment status = %s, want %s", dep.Status, models.DeploymentClosed)
	}
	got, err := f.store.SoulByID(ctx, soul.ID)
	if err != nil {
		t.Fatalf("soul by id: %v", err)
	}
	if got.Status != models.SoulDormant {
		t.Errorf("soul status = %s, want %s", got.Status, models.SoulDormant)
	}
}

func TestCloseDeployment_ProviderErrorLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	soul := seedRegisteredSoul(t, f.store)

	if err := f.coord.OnSoulRegistered(ctx, soul.ID); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	deps, _ := f.store.DeploymentsBySoul(ctx, soul.ID)
	f.provider.closeErr = errors.New("bridge unreachable")

	if err := f.coord.CloseDeployment(ctx, deps[0].ID); err == nil {
		t.Fatal("expected error when provider close fails")
	}
	dep, _ := f.store.DeploymentByID(ctx, deps[0].ID)
	if dep.Status == models.DeploymentClosed {
		t.Error("deployment closed despite provider failure")
	}
}
