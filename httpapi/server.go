// Package httpapi is the transport surface over the orchestrator core:
// session issuance, encrypted-export submission, status queries and the
// wallet-prepare hook used before on-chain registration.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/axobase001/axobase/db/models"
	"github.com/axobase001/axobase/deploy"
	"github.com/axobase001/axobase/ledger"
	"github.com/axobase001/axobase/observability"
	"github.com/axobase001/axobase/vault"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decoded payloads above this size are rejected before touching the core.
const maxUploadBytes = 10 * 1024 * 1024

var walletAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

type Config struct {
	Listen string `mapstructure:"listen"`
}

type Server struct {
	vault       *vault.Vault
	coordinator *deploy.Coordinator
	store       *ledger.Store
	log         *slog.Logger

	httpServer *http.Server
}

func NewServer(cfg Config, v *vault.Vault, c *deploy.Coordinator, store *ledger.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	listen := strings.TrimSpace(cfg.Listen)
	if listen == "" {
		listen = ":8000"
	}
	s := &Server{
		vault:       v,
		coordinator: c,
		store:       store,
		log:         log.With("component", "httpapi"),
	}

	mux := http.NewServeMux()
	s.route(mux, "GET /api/health", s.handleHealth)
	s.route(mux, "POST /api/export", s.handleExport)
	s.route(mux, "DELETE /api/export/{session_id}", s.handleCancelExport)
	s.route(mux, "POST /api/upload", s.handleUpload)
	s.route(mux, "GET /api/souls/{id}/status", s.handleSoulStatus)
	s.route(mux, "GET /api/wallet/{address}/status", s.handleWalletStatus)
	s.route(mux, "POST /api/wallet/prepare", s.handleWalletPrepare)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, e.g. for embedding under another
// mux or driving the API in tests without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe() error {
	s.log.Info("http api listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// route registers a handler and instruments it under its registered
// pattern. The pattern keeps the metric cardinality fixed; the raw URL
// path would mint a series per soul id and per session id.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		observability.RecordHTTPRequest(method, path, rec.status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "axobase-orchestrator",
	})
}

type exportRequest struct {
	OwnerID string `json:"owner_id"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	sessionID, pubPEM, err := s.vault.Issue(strings.TrimSpace(req.OwnerID))
	if err != nil {
		s.log.Error("issuing session key", "error", err)
		writeError(w, http.StatusInternalServerError, "key generation failed, please retry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"public_key": pubPEM,
		"expires_in": int(s.vault.TTL().Seconds()),
	})
}

func (s *Server) handleCancelExport(w http.ResponseWriter, r *http.Request) {
	s.vault.Invalidate(r.PathValue("session_id"))
	w.WriteHeader(http.StatusNoContent)
}

type uploadRequest struct {
	SessionID string `json:"session_id"`
	OwnerID   string `json:"owner_id"`
	Payload   string `json:"payload"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// base64 inflates the 10MiB payload limit by 4/3, plus JSON framing.
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes*3/2)
	var req uploadRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large, max %d bytes", maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "payload must be base64")
		return
	}
	if len(ciphertext) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large, max %d bytes", maxUploadBytes))
		return
	}

	soul, created, err := s.coordinator.AcceptUpload(r.Context(), req.OwnerID, req.SessionID, ciphertext)
	switch {
	case errors.Is(err, deploy.ErrSessionInvalid):
		writeError(w, http.StatusBadRequest, "session expired or already used, request a new export")
		return
	case errors.Is(err, deploy.ErrBadPayload):
		writeError(w, http.StatusBadRequest, "payload could not be decrypted with this session key")
		return
	case err != nil:
		s.log.Error("upload failed", "error", err)
		writeError(w, http.StatusBadGateway, "upload failed, please retry")
		return
	}

	status := "success"
	if !created {
		status = "exists"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"soul_id":    soul.ID,
		"hash":       soul.MemoryHash,
		"storage_id": soul.StorageID,
	})
}

func (s *Server) handleSoulStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid soul id")
		return
	}
	soul, err := s.store.SoulByID(r.Context(), uint(id))
	if errors.Is(err, ledger.ErrSoulNotFound) {
		writeError(w, http.StatusNotFound, "soul not found")
		return
	}
	if err != nil {
		s.log.Error("soul status", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, soulView(soul))
}

func (s *Server) handleWalletStatus(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.PathValue("address"))
	if !walletAddressRe.MatchString(address) {
		writeError(w, http.StatusBadRequest, "invalid wallet address format")
		return
	}
	soul, ok, err := s.store.SoulByWallet(r.Context(), address)
	if err != nil {
		s.log.Error("wallet status", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no soul bound to this wallet")
		return
	}
	writeJSON(w, http.StatusOK, soulView(soul))
}

type walletPrepareRequest struct {
	WalletAddress string `json:"wallet_address"`
	SoulID        *uint  `json:"soul_id,omitempty"`
}

func (s *Server) handleWalletPrepare(w http.ResponseWriter, r *http.Request) {
	var req walletPrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !walletAddressRe.MatchString(strings.TrimSpace(req.WalletAddress)) {
		writeError(w, http.StatusBadRequest, "invalid wallet address format")
		return
	}

	var (
		soul models.Soul
		err  error
	)
	if req.SoulID != nil {
		soul, err = s.store.SoulByID(r.Context(), *req.SoulID)
		if errors.Is(err, ledger.ErrSoulNotFound) {
			writeError(w, http.StatusNotFound, "soul not found")
			return
		}
	} else {
		var ok bool
		soul, ok, err = s.store.LatestWalletlessUploaded(r.Context())
		if err == nil && !ok {
			writeError(w, http.StatusNotFound, "no pending soul found, upload an export first")
			return
		}
	}
	if err != nil {
		s.log.Error("wallet prepare", "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	if err := s.store.SetWalletAddress(r.Context(), soul.ID, req.WalletAddress); err != nil {
		s.log.Error("wallet prepare", "error", err)
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"soul_id":        soul.ID,
		"wallet_address": strings.ToLower(strings.TrimSpace(req.WalletAddress)),
	})
}

func soulView(soul models.Soul) map[string]any {
	view := map[string]any{
		"soul_id":     soul.ID,
		"memory_hash": soul.MemoryHash,
		"status":      string(soul.Status),
		"created_at":  soul.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":  soul.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if soul.StorageID != "" {
		view["storage_id"] = soul.StorageID
	}
	if soul.WalletAddress != "" {
		view["wallet_address"] = soul.WalletAddress
	}
	if soul.DeploymentURI != "" {
		view["deployment_uri"] = soul.DeploymentURI
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
