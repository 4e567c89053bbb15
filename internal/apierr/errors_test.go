package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without wrapped error",
			err:  &APIError{Code: "TEST_ERROR", Message: "something went wrong"},
			want: "TEST_ERROR: something went wrong",
		},
		{
			name: "with wrapped error",
			err:  &APIError{Code: "TEST_ERROR", Message: "something went wrong", Err: errors.New("cause")},
			want: "TEST_ERROR: something went wrong (cause)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Fatalf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		code     string
		status   int
		sentinel error
	}{
		{"validation", Validation("items must not be empty"), CodeValidation, http.StatusBadRequest, ErrInvalidRequest},
		{"not found", NotFound("order"), CodeNotFound, http.StatusNotFound, ErrNotFound},
		{"order not found", OrderNotFound("order_1_abc"), CodeOrderNotFound, http.StatusNotFound, ErrNotFound},
		{"gateway", Gateway("create session", errors.New("timeout")), CodeGateway, http.StatusInternalServerError, ErrGateway},
		{"checkout failed", CheckoutFailed(errors.New("timeout")), CodeCheckoutFailed, http.StatusInternalServerError, ErrGateway},
		{"rate limited", RateLimited(), CodeRateLimited, http.StatusTooManyRequests, ErrRateLimited},
		{"conflict", Conflict("session mismatch"), CodeConflict, http.StatusConflict, ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Fatalf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.StatusCode != tt.status {
				t.Fatalf("StatusCode = %d, want %d", tt.err.StatusCode, tt.status)
			}
			if !errors.Is(tt.err, tt.sentinel) {
				t.Fatalf("expected errors.Is(%v, %v)", tt.err, tt.sentinel)
			}
		})
	}
}

func TestFrom(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", Validation("bad email"))
	if got := From(wrapped); got.Code != CodeValidation {
		t.Fatalf("expected wrapped APIError to be found, got %s", got.Code)
	}

	plain := errors.New("boom")
	got := From(plain)
	if got.Code != CodeInternal || got.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected conversion: %+v", got)
	}
	if !errors.Is(got, plain) {
		t.Fatalf("internal error should wrap the cause")
	}
}
