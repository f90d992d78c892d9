package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"kassa/internal/clock"
)

const SignatureHeader = "X-Payment-Signature"

var (
	ErrMissingSignature   = errors.New("missing signature")
	ErrMalformedSignature = errors.New("malformed signature header")
	ErrSignatureMismatch  = errors.New("signature mismatch")
	ErrStaleSignature     = errors.New("signature timestamp outside tolerance")
)

type WebhookConfig struct {
	Secret    string
	Tolerance time.Duration
}

// WebhookVerifier checks "t=<unix>,v1=<hex>" signatures where
// v1 = HMAC-SHA256(secret, t + "." + body).
type WebhookVerifier struct {
	secret    []byte
	tolerance time.Duration
	clock     clock.Clock
}

func NewWebhookVerifier(cfg WebhookConfig, clk clock.Clock) *WebhookVerifier {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	return &WebhookVerifier{secret: []byte(cfg.Secret), tolerance: cfg.Tolerance, clock: clk}
}

func (v *WebhookVerifier) Verify(header string, body []byte) error {
	if header == "" {
		return ErrMissingSignature
	}

	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return ErrMalformedSignature
		}
		switch k {
		case "t":
			ts = val
		case "v1":
			sig = val
		}
	}
	if ts == "" || sig == "" {
		return ErrMalformedSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrMalformedSignature
	}
	age := v.clock.Now().Sub(time.Unix(unix, 0))
	if age > v.tolerance || age < -v.tolerance {
		return ErrStaleSignature
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return ErrMalformedSignature
	}
	if !hmac.Equal(got, v.mac(ts, body)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign builds a header value for body at time t.
func (v *WebhookVerifier) Sign(t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(v.mac(ts, body))
}

func (v *WebhookVerifier) mac(ts string, body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(ts))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}
