package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/xraph/herald/signature"
)

// Headers set on every delivery request besides the signature.
const (
	HeaderEvent    = "X-Webhook-Event"
	HeaderEventID  = "X-Webhook-Event-ID"
	HeaderDelivery = "X-Webhook-Delivery"
	HeaderAttempt  = "X-Webhook-Attempt"
)

// DefaultUserAgent identifies Herald to receivers.
const DefaultUserAgent = "Herald-Webhook-Delivery/1.0"

// maxResponseRead bounds how much of a response body is read.
const maxResponseRead = 4 << 10

// Result is the outcome of one HTTP attempt.
type Result struct {
	StatusCode int // 0 when no response was received
	Error      string
	Response   string
	LatencyMs  int64
}

// OK reports a 2xx response.
func (r Result) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Detail is what gets stored as the delivery response: the body when the
// receiver answered, otherwise the transport error.
func (r Result) Detail() string {
	if r.StatusCode == 0 && r.Error != "" {
		return r.Error
	}
	return r.Response
}

// Sender POSTs signed payloads.
type Sender struct {
	client    *http.Client
	userAgent string
}

// NewSender returns a Sender whose requests time out after timeout.
func NewSender(timeout time.Duration, userAgent string) *Sender {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Sender{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Send performs one attempt of job.
func (s *Sender) Send(ctx context.Context, job Job) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.URL, bytes.NewReader(job.Payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("create request: %v", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(signature.HeaderSignature, signature.SignCanonical(job.Payload, job.Secret))
	req.Header.Set(HeaderEvent, job.Kind.String())
	req.Header.Set(HeaderEventID, job.EventID.String())
	req.Header.Set(HeaderDelivery, job.DeliveryID.String())
	req.Header.Set(HeaderAttempt, strconv.Itoa(job.Attempt))

	start := time.Now()
	resp, err := s.client.Do(req) //nolint:gosec // G704: the URL is the subscriber's configured receiver.
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return Result{Error: err.Error(), LatencyMs: latency}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))
	res := Result{
		StatusCode: resp.StatusCode,
		Response:   string(body),
		LatencyMs:  latency,
	}
	if readErr != nil {
		res.Error = fmt.Sprintf("read response: %v", readErr)
	}

	return res
}
