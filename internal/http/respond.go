package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/fjod/storefront/internal/domain"
	"github.com/go-playground/validator/v10"
)

const codeInvalidRequest = "INVALID_REQUEST"

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// statusForKind maps an error kind to the HTTP status it is reported with.
func statusForKind(k domain.Kind) int {
	switch k {
	case domain.KindInvalidQuantity, domain.KindInvalidDeliveryDetails, domain.KindNegativeResult,
		domain.KindInvalidCustomer:
		return http.StatusBadRequest
	case domain.KindProductNotFound, domain.KindItemNotFound, domain.KindOrderNotFound, domain.KindCartNotFound,
		domain.KindCustomerNotFound:
		return http.StatusNotFound
	case domain.KindCartNotActive, domain.KindInvalidTransition, domain.KindConcurrentModification,
		domain.KindDuplicateCustomer:
		return http.StatusConflict
	case domain.KindProductInactive, domain.KindInsufficientStock, domain.KindEmptyCart,
		domain.KindStaleStock, domain.KindCurrencyMismatch:
		return http.StatusUnprocessableEntity
	case domain.KindCollaboratorUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError writes err with its kind, status and retry hint.
// Internal errors are logged and their text hidden from the caller.
func respondDomainError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      string(kind),
		Retryable: domain.IsRetryable(err),
	}

	var stale *domain.StaleStockError
	var stock *domain.StockError
	var transition *domain.TransitionError
	switch {
	case errors.As(err, &stale):
		resp.Details = stale.Items
	case errors.As(err, &stock):
		resp.Details = map[string]any{
			"product_id": stock.ProductID,
			"requested":  stock.Requested,
			"available":  stock.Available,
		}
	case errors.As(err, &transition):
		resp.Details = map[string]string{"from": string(transition.From), "to": string(transition.To)}
	}

	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "code", kind, "error", err)
		if kind == domain.KindInternal {
			resp.Error = "internal server error"
		}
	}
	respondJSON(w, status, resp)
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// On failure it writes a 400 with the given code and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, code string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			respondError(w, http.StatusBadRequest, code, err.Error())
			return false
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed %s", fieldPath(fe.Namespace()), fe.Tag()))
		}
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "request validation failed",
			Code:    code,
			Details: fields,
		})
		return false
	}
	return true
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
