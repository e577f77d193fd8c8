package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrEthical07/hospitalauth"
)

const maxBodyBytes = 64 << 10

type errorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message,omitempty"`
	RetryAfterMinutes int    `json:"retry_after_minutes,omitempty"`
	AttemptsRemaining *int   `json:"attempts_remaining,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decode(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return hospitalauth.ErrInvalidInput
	}
	return nil
}

// classify maps an engine error to its status and body. Expected failures
// get a stable code; everything else is an internal error without detail.
func classify(err error) (int, errorBody) {
	var (
		locked *hospitalauth.LockedError
		code   *hospitalauth.CodeError
	)
	switch {
	case errors.As(err, &locked):
		return http.StatusForbidden, errorBody{
			Error:             "account_locked",
			Message:           "account temporarily locked",
			RetryAfterMinutes: locked.RemainingMinutes(),
		}
	case errors.Is(err, hospitalauth.ErrAccountLocked):
		return http.StatusForbidden, errorBody{Error: "account_locked", Message: "account temporarily locked"}
	case errors.Is(err, hospitalauth.ErrRateLimited):
		return http.StatusForbidden, errorBody{Error: "rate_limited", Message: "too many attempts, try again later"}
	case errors.Is(err, hospitalauth.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorBody{Error: "invalid_credentials", Message: "invalid credentials"}
	case errors.As(err, &code):
		remaining := code.Remaining
		return http.StatusBadRequest, errorBody{Error: "invalid_code", Message: "invalid verification code", AttemptsRemaining: &remaining}
	case errors.Is(err, hospitalauth.ErrInvalidCode):
		return http.StatusBadRequest, errorBody{Error: "invalid_code", Message: "invalid verification code"}
	case errors.Is(err, hospitalauth.ErrTooManyAttempts):
		return http.StatusBadRequest, errorBody{Error: "too_many_attempts", Message: "too many wrong codes, start again"}
	case errors.Is(err, hospitalauth.ErrChallengeExpired):
		return http.StatusBadRequest, errorBody{Error: "challenge_expired", Message: "code expired, start again"}
	case errors.Is(err, hospitalauth.ErrResetSequenceViolation):
		return http.StatusBadRequest, errorBody{Error: "reset_sequence_violation", Message: "invalid or expired reset session"}
	case errors.Is(err, hospitalauth.ErrPasswordReuse):
		return http.StatusBadRequest, errorBody{Error: "password_reuse", Message: "new password must differ from the current one"}
	case errors.Is(err, hospitalauth.ErrPasswordMismatch):
		return http.StatusBadRequest, errorBody{Error: "password_mismatch", Message: "passwords do not match"}
	case errors.Is(err, hospitalauth.ErrPasswordPolicy):
		return http.StatusBadRequest, errorBody{Error: "password_policy", Message: "password does not meet the policy"}
	case errors.Is(err, hospitalauth.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, errorBody{Error: "invalid_refresh_token"}
	case errors.Is(err, hospitalauth.ErrInvalidAccessToken):
		return http.StatusUnauthorized, errorBody{Error: "invalid_access_token"}
	case errors.Is(err, hospitalauth.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Error: "invalid_request"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal_error"}
	}
}

// fail writes err. Internal faults and refresh failures also clear the
// session cookies.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	if status == http.StatusInternalServerError || errors.Is(err, hospitalauth.ErrInvalidRefreshToken) {
		s.cookies.Clear(w)
	}
	writeJSON(w, status, body)
}
