// Package transport provides HTTP handlers for the verification domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/matchstore/internal/storage"
	"github.com/pendergraft/matchstore/internal/verification/domain"
)

// maxCheckAddresses bounds the addresses of one check request.
const maxCheckAddresses = 100

// Service defines the verification service interface for HTTP transport.
type Service interface {
	StoreVerification(ctx context.Context, export *domain.VerificationExport) (*domain.StoreResult, error)
	CheckByChainAndAddress(ctx context.Context, chainID, address string) (*domain.Match, error)
	CheckAllByChainAndAddress(ctx context.Context, chainID, address string) ([]domain.Match, error)
	GetContract(ctx context.Context, chainID, address string) (*domain.Contract, error)
	ListContracts(ctx context.Context, chainID string, pagination domain.PaginationParams) (*domain.ListResult, error)
	GetFiles(ctx context.Context, chainID, address string) (*domain.Files, error)
}

// Handler handles HTTP requests for verification.
type Handler struct {
	svc Service
}

// NewHandler creates a new verification HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the verification routes on a chi router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	h.RegisterWriteRoutes(r)
	h.RegisterReadRoutes(r)
}

// RegisterWriteRoutes registers the submission route.
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/verifications", h.handleStore)
}

// RegisterReadRoutes registers the lookup routes.
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/check-by-addresses", h.handleCheck(false))
	r.Get("/check-all-by-addresses", h.handleCheck(true))
	r.Get("/contract/{chainId}/{address}", h.handleGetContract)
	r.Get("/contracts/{chainId}", h.handleListContracts)
	r.Get("/files/{chainId}/{address}", h.handleGetFiles)
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var export domain.VerificationExport
	if err := json.Unmarshal(body, &export); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON: "+err.Error())
		return
	}

	result, err := h.svc.StoreVerification(r.Context(), &export)
	if err != nil {
		writeServiceError(w, err, "Failed to store verification")
		return
	}

	writeJSON(w, http.StatusCreated, StoreResponse{
		ChainID:       result.ChainID,
		Address:       result.Address,
		RuntimeMatch:  result.Status.RuntimeMatch,
		CreationMatch: result.Status.CreationMatch,
		Warnings:      result.Warnings,
	})
}

// handleCheck answers, for every address, the match status on every
// requested chain. With all set, every match of the address is listed.
func (h *Handler) handleCheck(all bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addresses := splitList(r.URL.Query().Get("addresses"))
		chainIDs := splitList(r.URL.Query().Get("chainIds"))
		if len(addresses) == 0 || len(chainIDs) == 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "addresses and chainIds are required")
			return
		}
		if len(addresses) > maxCheckAddresses {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST",
				"at most "+strconv.Itoa(maxCheckAddresses)+" addresses per request")
			return
		}

		results := make([]CheckResult, 0, len(addresses))
		for _, address := range addresses {
			result := CheckResult{Address: address, Status: "false", ChainIDs: []ChainStatus{}}

			for _, chainID := range chainIDs {
				matches, err := h.check(r.Context(), chainID, address, all)
				if err != nil {
					writeServiceError(w, err, "Failed to check address")
					return
				}
				for _, m := range matches {
					result.Address = m.Address
					result.ChainIDs = append(result.ChainIDs, ChainStatus{
						ChainID:       m.ChainID,
						Status:        m.Match.String(),
						RuntimeMatch:  m.RuntimeMatch,
						CreationMatch: m.CreationMatch,
						VerifiedAt:    m.VerifiedAt,
					})
				}
			}

			if len(result.ChainIDs) > 0 {
				result.Status = result.ChainIDs[0].Status
			}
			results = append(results, result)
		}

		writeJSON(w, http.StatusOK, results)
	}
}

func (h *Handler) check(ctx context.Context, chainID, address string, all bool) ([]domain.Match, error) {
	if all {
		return h.svc.CheckAllByChainAndAddress(ctx, chainID, address)
	}
	m, err := h.svc.CheckByChainAndAddress(ctx, chainID, address)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []domain.Match{*m}, nil
}

func (h *Handler) handleGetContract(w http.ResponseWriter, r *http.Request) {
	contract, err := h.svc.GetContract(r.Context(), chi.URLParam(r, "chainId"), chi.URLParam(r, "address"))
	if err != nil {
		writeServiceError(w, err, "Failed to get contract")
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (h *Handler) handleListContracts(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	result, err := h.svc.ListContracts(r.Context(), chi.URLParam(r, "chainId"), domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeServiceError(w, err, "Failed to list contracts")
		return
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Data: result.Matches,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleGetFiles(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.GetFiles(r.Context(), chi.URLParam(r, "chainId"), chi.URLParam(r, "address"))
	if err != nil {
		writeServiceError(w, err, "Failed to get files")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		validationErr *domain.ValidationError
		conflictErr   *domain.ConflictError
		persistErr    *storage.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", validationErr.Error())
	case errors.As(err, &conflictErr):
		writeError(w, http.StatusConflict, "ALREADY_VERIFIED", conflictErr.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Contract not found")
	case errors.Is(err, domain.ErrUnavailable):
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Operation not supported by the read backend")
	case errors.As(err, &persistErr):
		// Driver errors stay in the logs.
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			fmt.Sprintf("%s: backend %s failed for %s on chain %d", fallback, persistErr.Backend, persistErr.Address, persistErr.ChainID))
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
