package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/fjod/go_marketplace/internal/repository"
	"github.com/fjod/go_marketplace/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// decodeJSON reads and validates a request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request validation failed",
			Code:    "invalid_request",
			Details: validationDetails(err),
		})
		return false
	}
	return true
}

func validationDetails(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

type errorMapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

var errorMappings = []errorMapping{
	{service.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated", false},
	{service.ErrPermissionDenied, http.StatusForbidden, "permission_denied", false},
	{service.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity", false},
	{service.ErrInvalidAddress, http.StatusBadRequest, "invalid_address", false},
	{service.ErrInvalidPaymentMethod, http.StatusBadRequest, "invalid_payment_method", false},
	{service.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount", false},
	{service.ErrInvalidStatus, http.StatusBadRequest, "invalid_status", false},
	{service.ErrInvalidProduct, http.StatusBadRequest, "invalid_product", false},
	{service.ErrEmptyCart, http.StatusBadRequest, "empty_cart", false},
	{service.ErrPaymentVerificationFailed, http.StatusBadRequest, "payment_verification_failed", false},
	{service.ErrItemNotFound, http.StatusNotFound, "item_not_found", false},
	{service.ErrOrderNotFound, http.StatusNotFound, "order_not_found", false},
	{service.ErrProductUnavailable, http.StatusConflict, "product_unavailable", false},
	{service.ErrInvalidTransition, http.StatusConflict, "invalid_transition", false},
	{service.ErrPaymentNotRequired, http.StatusConflict, "payment_not_required", false},
	{repository.ErrVersionConflict, http.StatusConflict, "conflict", true},
	{service.ErrUpstreamTimeout, http.StatusServiceUnavailable, "upstream_timeout", true},
}

// handleServiceError maps service errors to HTTP responses. Unmapped errors are logged
// and answered with a generic 500 body.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		resp := ErrorResponse{Error: m.target.Error(), Code: m.code, Retryable: m.retryable}
		if m.status < http.StatusInternalServerError {
			resp.Error = err.Error()
		} else {
			log.WarnContext(r.Context(), "upstream failure", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		}
		respondJSON(w, m.status, resp)
		return
	}

	log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
}
