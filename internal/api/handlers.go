/**
 * @description
 * This file contains the HTTP handlers for the cagnotte service's API
 * endpoints. Handlers are responsible for parsing incoming requests, calling
 * the appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/settle, internal/store: For
 *   service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stupidpencil/Cascade-cagnotte/internal/app"
	"github.com/stupidpencil/Cascade-cagnotte/internal/domain"
	"github.com/stupidpencil/Cascade-cagnotte/internal/settle"
	"github.com/stupidpencil/Cascade-cagnotte/internal/store"
)

// PotHandlers holds the application service that handlers will use.
type PotHandlers struct {
	service *app.Service
}

// NewPotHandlers creates a new instance of PotHandlers.
func NewPotHandlers(service *app.Service) *PotHandlers {
	return &PotHandlers{service: service}
}

// ownerActionRequest is the body shared by the owner operations. The owner
// token can also travel in the X-Owner-Token header.
type ownerActionRequest struct {
	OwnerToken string `json:"owner_token,omitempty"`
	PIN        string `json:"pin,omitempty"`
}

// CreatePotHandler handles pot creation.
func (h *PotHandlers) CreatePotHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.CreatePot(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err, "create pot")
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// GetPotHandler returns the public snapshot of a pot.
func (h *PotHandlers) GetPotHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	snapshot, err := h.service.GetPotSnapshot(r.Context(), slug)
	if err != nil {
		h.handleServiceError(w, err, "get pot")
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// ListContributionsHandler returns the redacted contribution feed.
func (h *PotHandlers) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	contributions, err := h.service.ListPublicContributions(r.Context(), slug)
	if err != nil {
		h.handleServiceError(w, err, "list contributions")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"contributions": contributions})
}

// EstimateHandler answers "what would I get back if I paid this amount now".
// The amount is read from the amount_cents query parameter.
func (h *PotHandlers) EstimateHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	amountStr := r.URL.Query().Get("amount_cents")
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil || amount < 0 {
		h.writeError(w, http.StatusBadRequest, "amount_cents must be a non-negative integer")
		return
	}

	estimate, err := h.service.EstimateRefund(r.Context(), slug, amount)
	if err != nil {
		h.handleServiceError(w, err, "estimate refund")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{
		"amount_cents":           amount,
		"estimated_refund_cents": estimate,
	})
}

// ContributeHandler records a contribution intent and returns the checkout
// session the contributor is redirected to.
func (h *PotHandlers) ContributeHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	var req domain.ContributeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.service.Contribute(r.Context(), slug, req)
	if err != nil {
		h.handleServiceError(w, err, "contribute")
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// ClosePotHandler settles and terminally closes a pot.
func (h *PotHandlers) ClosePotHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	ownerToken, pin, jwtAuthorized := h.ownerCredentials(r, slug)

	result, err := h.service.ClosePot(r.Context(), slug, ownerToken, pin, jwtAuthorized)
	if err != nil {
		h.handleServiceError(w, err, "close pot")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// CloseCycleHandler settles the current cycle of a recurring pot and opens
// the next one.
func (h *PotHandlers) CloseCycleHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	ownerToken, pin, jwtAuthorized := h.ownerCredentials(r, slug)

	result, err := h.service.CloseCycle(r.Context(), slug, ownerToken, pin, jwtAuthorized)
	if err != nil {
		h.handleServiceError(w, err, "close cycle")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// SettlementPreviewHandler shows the owner what closing right now would do,
// without persisting anything.
func (h *PotHandlers) SettlementPreviewHandler(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	ownerToken, _, jwtAuthorized := h.ownerCredentials(r, slug)
	if !jwtAuthorized {
		if err := h.service.VerifyOwnerToken(r.Context(), slug, ownerToken); err != nil {
			h.handleServiceError(w, err, "settlement preview")
			return
		}
	}

	result, err := h.service.SettlementPreview(r.Context(), slug)
	if err != nil {
		h.handleServiceError(w, err, "settlement preview")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// RunDueSettlementsHandler is the internal trigger for the due-settlement
// sweep, used by operators and by the scheduler of another instance.
func (h *PotHandlers) RunDueSettlementsHandler(w http.ResponseWriter, r *http.Request) {
	cyclesClosed, potsClosed := h.service.RunDueSettlements(r.Context(), time.Now())
	h.writeJSON(w, http.StatusOK, map[string]int{
		"cycles_closed": cyclesClosed,
		"pots_closed":   potsClosed,
	})
}

// ownerCredentials collects the owner token (body or header), the PIN, and
// whether a valid owner badge for this slug was presented.
func (h *PotHandlers) ownerCredentials(r *http.Request, slug string) (ownerToken, pin string, jwtAuthorized bool) {
	var req ownerActionRequest
	if r.Body != nil {
		// An empty body is fine; owner token may come from the header.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	ownerToken = req.OwnerToken
	if ownerToken == "" {
		ownerToken = r.Header.Get("X-Owner-Token")
	}
	if badgeSlug, ok := GetBadgeSlug(r.Context()); ok && badgeSlug == slug {
		jwtAuthorized = true
	}
	return ownerToken, req.PIN, jwtAuthorized
}

// handleServiceError maps service errors onto HTTP status codes.
func (h *PotHandlers) handleServiceError(w http.ResponseWriter, err error, op string) {
	var verr *settle.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, verr.Message)
	case errors.Is(err, store.ErrPotNotFound), errors.Is(err, store.ErrCycleNotFound):
		h.writeError(w, http.StatusNotFound, "Pot not found")
	case errors.Is(err, app.ErrUnauthorized):
		h.writeError(w, http.StatusUnauthorized, "Owner authorization required")
	case errors.Is(err, app.ErrInvalidPIN):
		h.writeError(w, http.StatusUnauthorized, "Invalid PIN")
	case errors.Is(err, app.ErrPotClosed):
		h.writeError(w, http.StatusConflict, "This pot is closed")
	case errors.Is(err, app.ErrNotRecurring):
		h.writeError(w, http.StatusBadRequest, "This pot has no cycles")
	case errors.Is(err, store.ErrAlreadyClosed):
		h.writeError(w, http.StatusConflict, "Already closed")
	default:
		log.Printf("level=error component=api msg=\"%s failed\" err=%v", op, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *PotHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"failed to encode response\" err=%v", err)
	}
}

func (h *PotHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
