package signature_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xraph/herald/signature"
)

func TestMiddleware(t *testing.T) {
	secret := "receiver-secret-123"
	body := `{"data":{},"event":"profile_updated","timestamp":"2026-01-01T00:00:00.000Z"}`
	good := signature.SignCanonical([]byte(body), secret)

	var seen string
	h := signature.Middleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		sig  string
		want int
	}{
		{"valid → 204", good, http.StatusNoContent},
		{"missing → 401", "", http.StatusUnauthorized},
		{"wrong → 401", signature.SignCanonical([]byte(body), "other-secret-12345"), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
			if tt.sig != "" {
				req.Header.Set(signature.HeaderSignature, tt.sig)
			}
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != body {
				t.Errorf("handler saw body %q, want %q", seen, body)
			}
		})
	}
}
