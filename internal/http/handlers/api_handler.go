// Package handlers exposes the HTTP API: institution catalog, account
// linking and transaction queries.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/TomSB1423/networth/internal/auth"
	"github.com/TomSB1423/networth/internal/core"
	"github.com/TomSB1423/networth/internal/provider"
	"github.com/TomSB1423/networth/internal/repo"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// APIHandler handles HTTP API requests
type APIHandler struct {
	institutionService *core.InstitutionService
	linkingService     *core.LinkingService
	accounts           repo.AccountRepository
	txns               repo.TransactionRepository
	jwtConfig          *auth.JWTConfig
	logger             *zap.Logger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(
	institutionService *core.InstitutionService,
	linkingService *core.LinkingService,
	accounts repo.AccountRepository,
	txns repo.TransactionRepository,
	jwtConfig *auth.JWTConfig,
	logger *zap.Logger,
) *APIHandler {
	return &APIHandler{
		institutionService: institutionService,
		linkingService:     linkingService,
		accounts:           accounts,
		txns:               txns,
		jwtConfig:          jwtConfig,
		logger:             logger.Named("api_handler"),
	}
}

// Routes returns the HTTP routes
func (h *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Public routes
	r.Get("/health", h.GetHealth)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(h.jwtConfig.ChiMiddleware())

		r.Get("/institutions", h.ListInstitutions)
		r.Post("/institutions/{institution_id}/link", h.RequestLink)
		r.Get("/requisitions/{requisition_id}", h.GetRequisition)
		r.Get("/accounts", h.ListAccounts)
		r.Get("/accounts/{account_id}/transactions", h.ListTransactions)
	})

	return r
}

// GetHealth handles health check requests
func (h *APIHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}

	h.writeJSON(w, http.StatusOK, response)
}

// ListInstitutions returns the institution catalog for a country.
func (h *APIHandler) ListInstitutions(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")

	institutions, err := h.institutionService.ListInstitutions(r.Context(), country)
	if err != nil {
		h.writeServiceError(w, "Failed to list institutions", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"institutions": institutions,
		"total_count":  len(institutions),
	})
}

// RequestLink starts linking the authenticated user to an institution.
func (h *APIHandler) RequestLink(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Not authenticated", err)
		return
	}

	institutionID := chi.URLParam(r, "institution_id")

	result, err := h.linkingService.RequestLink(r.Context(), userID, institutionID)
	if err != nil {
		h.writeServiceError(w, "Failed to request link", err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyLinked {
		status = http.StatusOK
	}

	h.logger.Info("Link requested",
		zap.String("institution_id", institutionID),
		zap.String("requisition_id", result.RequisitionID),
		zap.Bool("already_linked", result.AlreadyLinked))

	h.writeJSON(w, status, result)
}

// GetRequisition polls the aggregator for fresh requisition status and
// returns the stored requisition. Polling from the read path keeps the link
// flow webhook-free.
func (h *APIHandler) GetRequisition(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Not authenticated", err)
		return
	}

	requisitionID := chi.URLParam(r, "requisition_id")

	requisition, err := h.linkingService.RefreshLinkStatus(r.Context(), userID, requisitionID)
	if err != nil {
		h.writeServiceError(w, "Failed to get requisition", err)
		return
	}

	h.writeJSON(w, http.StatusOK, requisition)
}

// ListAccounts returns the authenticated user's linked accounts.
func (h *APIHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Not authenticated", err)
		return
	}

	accounts, err := h.accounts.ListAccountsByUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts":    accounts,
		"total_count": len(accounts),
	})
}

// ListTransactions returns one page of an account's transactions, newest
// first.
func (h *APIHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.GetUserIDFromContext(r.Context())
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Not authenticated", err)
		return
	}

	accountID := chi.URLParam(r, "account_id")

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		page, err = strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			h.writeError(w, http.StatusBadRequest, "Invalid page parameter", nil)
			return
		}
	}

	pageSize := defaultPageSize
	if sizeStr := r.URL.Query().Get("page_size"); sizeStr != "" {
		pageSize, err = strconv.Atoi(sizeStr)
		if err != nil || pageSize < 1 || pageSize > maxPageSize {
			h.writeError(w, http.StatusBadRequest, "Invalid page_size parameter", nil)
			return
		}
	}

	transactions, total, err := h.txns.ListTransactionsPage(r.Context(), repo.ListTransactionsPageParams{
		AccountID: accountID,
		UserID:    userID,
		Limit:     int32(pageSize),
		Offset:    int32((page - 1) * pageSize),
	})
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"page":         page,
		"page_size":    pageSize,
		"total_count":  total,
	})
}

// Helper methods

// writeServiceError maps service and provider errors onto HTTP statuses.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, message string, err error) {
	var invalid *core.ValidationError
	if errors.As(err, &invalid) {
		h.writeError(w, http.StatusBadRequest, invalid.Msg, nil)
		return
	}

	var notFound *core.NotFoundError
	if errors.As(err, &notFound) {
		h.writeError(w, http.StatusNotFound, notFound.Error(), nil)
		return
	}

	var rateLimited *provider.RateLimitedError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		h.writeError(w, http.StatusServiceUnavailable, "Provider rate limit reached", err)
		return
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		h.writeError(w, http.StatusBadGateway, "Provider request failed", err)
		return
	}

	h.writeError(w, http.StatusInternalServerError, message, err)
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, status int, message string, err error) {
	h.logger.Error("API error",
		zap.String("message", message),
		zap.Error(err),
		zap.Int("status", status))

	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		response["details"] = err.Error()
	}

	h.writeJSON(w, status, response)
}
