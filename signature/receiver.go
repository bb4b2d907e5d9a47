package signature

import (
	"bytes"
	"io"
	"net/http"
)

// MaxBodyBytes bounds the request body VerifyRequest will read.
const MaxBodyBytes = 1 << 20

// VerifyRequest reads r's body, checks it against the X-Webhook-Signature
// header and returns the body. The body is restored on r so later handlers
// can read it again.
func VerifyRequest(r *http.Request, secret string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err != nil {
		return body, false
	}

	return body, Verify(body, r.Header.Get(HeaderSignature), secret)
}

// Middleware rejects requests whose signature does not verify with 401.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := VerifyRequest(r, secret); !ok {
				http.Error(w, "invalid signature", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
