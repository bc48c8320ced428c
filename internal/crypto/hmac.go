package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Request signature headers for callers that trigger work over HTTP, such
// as an external scheduler hitting POST /api/sync.
const (
	HeaderTimestamp = "X-Dealbot-Timestamp"
	HeaderSignature = "X-Dealbot-Signature"
)

var (
	ErrSignatureMismatch = errors.New("crypto: request signature mismatch")
	ErrSignatureExpired  = errors.New("crypto: request timestamp outside allowed skew")
)

// RequestSigner signs and verifies HMAC-SHA256(secret, ts+method+path+body).
type RequestSigner struct {
	Secret  []byte
	MaxSkew time.Duration
}

func (r *RequestSigner) mac(ts, method, path string, body []byte) string {
	m := hmac.New(sha256.New, r.Secret)
	m.Write([]byte(ts + method + path))
	m.Write(body)
	return base64.StdEncoding.EncodeToString(m.Sum(nil))
}

// Headers returns the signature headers for a request sent at unixTS.
func (r *RequestSigner) Headers(method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderTimestamp: ts,
		HeaderSignature: r.mac(ts, method, path, body),
	}
}

// Verify checks a signature received at now.
func (r *RequestSigner) Verify(method, path string, body []byte, ts, sig string, now time.Time) error {
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("crypto: bad timestamp %q: %w", ts, err)
	}
	if r.MaxSkew > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < -r.MaxSkew || skew > r.MaxSkew {
			return ErrSignatureExpired
		}
	}
	want := r.mac(ts, method, path, body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrSignatureMismatch
	}
	return nil
}

// String redacts the secret for logging.
func (r *RequestSigner) String() string {
	return fmt.Sprintf("RequestSigner{secret=****, max_skew=%s}", r.MaxSkew)
}
