package lockhandler

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/keywarden/keywarden/interfaces"
)

// ApplyRequest asks the cooperator to apply its current lock.
type ApplyRequest struct {
	BlindedValue string `json:"blindedValue"` // hex
}

// ApplyResponse carries the double-locked value and the key id used.
type ApplyResponse struct {
	DoubleBlindedValue string `json:"doubleBlindedValue"` // hex
	KeyID              string `json:"keyId"`
}

// RemoveRequest asks the cooperator to remove the lock named by KeyID.
// The key id is required and matched strictly; there is no default.
type RemoveRequest struct {
	BlindedValue string `json:"blindedValue"` // hex
	KeyID        string `json:"keyId"`
}

// RemoveResponse carries the value with the cooperator's lock removed.
type RemoveResponse struct {
	Value string `json:"value"` // hex
}

// KeyInfoResponse advertises the cooperator's keyring state.
type KeyInfoResponse struct {
	CurrentKeyID string   `json:"currentKeyId"`
	Modulus      string   `json:"modulus"` // hex
	GraceKeyIDs  []string `json:"graceKeyIds"`
}

// Handler serves the cooperator's lock API. The cooperator only ever sees
// blinded values, so the handler performs no secret handling beyond hex
// decoding and strict key-id routing.
type Handler struct {
	locks interfaces.LockService
	log   *slog.Logger
}

// NewHandler creates a lock API handler backed by the given lock service.
func NewHandler(locks interfaces.LockService, log *slog.Logger) *Handler {
	return &Handler{locks: locks, log: log}
}

// RegisterRoutes mounts the lock API on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/lock/apply", h.HandleApply)
	r.Post("/api/lock/remove", h.HandleRemove)
	r.Get("/api/lock/key-info", h.HandleKeyInfo)
}

// HandleApply processes a lock-apply request. Always uses the current key.
func (h *Handler) HandleApply(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	blinded, err := hex.DecodeString(req.BlindedValue)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid blinded value: %w", err).Error(), http.StatusBadRequest)
		return
	}

	doubleBlinded, keyID, err := h.locks.ApplyLock(r.Context(), blinded)
	if err != nil {
		http.Error(w, fmt.Errorf("could not apply lock: %w", err).Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, h.log, ApplyResponse{
		DoubleBlindedValue: hex.EncodeToString(doubleBlinded),
		KeyID:              string(keyID),
	})
}

// HandleRemove processes a lock-removal request. The presented key id must
// exactly match the current key or a grace entry; unknown ids get 404 so
// clients can trigger their fallback path.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	var req RemoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	if req.KeyID == "" {
		http.Error(w, "keyId is required", http.StatusBadRequest)
		return
	}

	blinded, err := hex.DecodeString(req.BlindedValue)
	if err != nil {
		http.Error(w, fmt.Errorf("invalid blinded value: %w", err).Error(), http.StatusBadRequest)
		return
	}

	value, err := h.locks.RemoveLock(r.Context(), blinded, interfaces.KeyID(req.KeyID))
	if errors.Is(err, interfaces.ErrUnknownKeyID) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Errorf("could not remove lock: %w", err).Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, h.log, RemoveResponse{Value: hex.EncodeToString(value)})
}

// HandleKeyInfo advertises the current key id, modulus and grace list.
func (h *Handler) HandleKeyInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.locks.KeyInfo(r.Context())
	if err != nil {
		http.Error(w, fmt.Errorf("could not fetch key info: %w", err).Error(), http.StatusInternalServerError)
		return
	}

	resp := KeyInfoResponse{
		CurrentKeyID: string(info.CurrentKeyID),
		Modulus:      hex.EncodeToString(info.Modulus),
		GraceKeyIDs:  make([]string, 0, len(info.GraceKeyIDs)),
	}
	for _, id := range info.GraceKeyIDs {
		resp.GraceKeyIDs = append(resp.GraceKeyIDs, string(id))
	}

	writeJSON(w, h.log, resp)
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
