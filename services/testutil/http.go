package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

// MakeAuthRequest sends body as JSON. A nil body sends no payload, which the
// close routes treat as "no reason given".
func MakeAuthRequest(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	}
	return serve(router, method, path, reader, token)
}

// MakeRawRequest sends raw verbatim, for payloads a Go value cannot express such
// as bare JSON numbers in amount fields.
func MakeRawRequest(router *gin.Engine, method, path, raw, token string) *httptest.ResponseRecorder {
	return serve(router, method, path, bytes.NewBufferString(raw), token)
}

func MakeAPIRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	return MakeAuthRequest(router, method, path, body, "")
}

// DecodeResponse asserts status and decodes the JSON body into out.
func DecodeResponse(t *testing.T, resp *httptest.ResponseRecorder, status int, out any) {
	t.Helper()
	AssertHTTPStatus(t, resp, status)
	if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body: %v (%s)", err, resp.Body.String())
	}
}

func serve(router *gin.Engine, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
