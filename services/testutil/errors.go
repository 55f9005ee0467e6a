package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	ErrorCodeInvalidRequest       = "INVALID_REQUEST"
	ErrorCodeUnauthorized         = "UNAUTHORIZED"
	ErrorCodeForbidden            = "FORBIDDEN"
	ErrorCodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ErrorCodeWalletNotFound       = "WALLET_NOT_FOUND"
	ErrorCodeLockNotFound         = "LOCK_NOT_FOUND"
	ErrorCodeEntryNotFound        = "ENTRY_NOT_FOUND"
	ErrorCodeDuplicateLock        = "DUPLICATE_LOCK"
	ErrorCodeLockConflict         = "LOCK_CONFLICT"
	ErrorCodeTransactionNotFound  = "TRANSACTION_NOT_FOUND"
	ErrorCodeDuplicateTransaction = "DUPLICATE_TRANSACTION"
	ErrorCodeTransactionConflict  = "TRANSACTION_CONFLICT"
	ErrorCodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
	ErrorCodeInternalError        = "INTERNAL_ERROR"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	if resp.Code != getHTTPStatusForErrorCode(expectedCode) {
		t.Fatalf("expected status %d, got %d (%s)", getHTTPStatusForErrorCode(expectedCode), resp.Code, resp.Body.String())
	}

	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Code != expectedCode {
		t.Fatalf("expected error code %q, got %q", expectedCode, errResp.Code)
	}
}

func AssertErrorMessage(t *testing.T, resp *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}

	if errResp.Message != expectedMessage {
		t.Fatalf("expected error message %q, got %q", expectedMessage, errResp.Message)
	}
}

// ErrorDetail returns details[key] from an error body, or "" when absent.
func ErrorDetail(t *testing.T, resp *httptest.ResponseRecorder, key string) string {
	t.Helper()
	var errResp errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	v, ok := errResp.Details[key].(string)
	if !ok {
		return ""
	}
	return v
}

func AssertHTTPStatus(t *testing.T, resp *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	if resp.Code != expectedStatus {
		t.Fatalf("expected status %d, got %d (%s)", expectedStatus, resp.Code, resp.Body.String())
	}
}

func getHTTPStatusForErrorCode(code string) int {
	switch code {
	case ErrorCodeInvalidRequest, ErrorCodeInsufficientFunds:
		return http.StatusBadRequest
	case ErrorCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrorCodeForbidden:
		return http.StatusForbidden
	case ErrorCodeWalletNotFound, ErrorCodeLockNotFound, ErrorCodeEntryNotFound, ErrorCodeTransactionNotFound:
		return http.StatusNotFound
	case ErrorCodeDuplicateLock, ErrorCodeLockConflict, ErrorCodeDuplicateTransaction, ErrorCodeTransactionConflict:
		return http.StatusConflict
	case ErrorCodeUnsupportedOperation:
		return http.StatusMethodNotAllowed
	case ErrorCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
