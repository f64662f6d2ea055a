package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"cdpchain/native/cdp"
	"cdpchain/native/oracle"
)

const requestLimit = 1 << 20

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, reason string, err error) {
	message := http.StatusText(status)
	if err != nil {
		if trimmed := strings.TrimSpace(err.Error()); trimmed != "" {
			message = trimmed
		}
	}
	writeJSON(w, status, errorResponse{Error: message, Reason: reason})
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, "bad_request", err)
}

// writeEngineError renders an engine failure with the status its reason
// code maps to.
func writeEngineError(w http.ResponseWriter, err error) {
	reason := cdp.Reason(err)
	if reason == "internal" && errors.Is(err, oracle.ErrFeedNotFound) {
		reason = "feed_not_found"
	}
	writeJSONError(w, statusForReason(reason), reason, err)
}

func statusForReason(reason string) int {
	switch reason {
	case "unauthorized":
		return http.StatusForbidden
	case "duplicate_init", "duplicate_pool", "duplicate_position":
		return http.StatusConflict
	case "position_not_found", "not_initialized", "pool_not_found", "stake_not_found":
		return http.StatusNotFound
	case "insufficient_collateral", "not_liquidatable", "insufficient_stability_pool",
		"insufficient_funds", "nothing_to_withdraw", "arithmetic_overflow":
		return http.StatusUnprocessableEntity
	case "stale_price", "unreliable_price", "feed_not_found", "module_paused":
		return http.StatusServiceUnavailable
	case "invalid_amount", "invalid_parameter":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded, strictly typed request body. An empty body
// leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, requestLimit+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) > requestLimit {
		return fmt.Errorf("request body exceeds %d bytes", requestLimit)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	return amount, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
