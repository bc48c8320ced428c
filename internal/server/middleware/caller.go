package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/crypto"
)

// Caller signature headers. The signed message is
// "<METHOD> <path> <unix timestamp>" in personal_sign form.
const (
	HeaderCallerSignature = "X-Caller-Signature"
	HeaderCallerTimestamp = "X-Caller-Timestamp"

	callerMaxSkew = 5 * time.Minute
)

type callerKey struct{}

// CallerMessage is the text a wallet signs to authenticate a request.
func CallerMessage(method, path string, unixTS int64) []byte {
	return []byte(fmt.Sprintf("%s %s %d", method, path, unixTS))
}

// SignedCaller returns the address recovered by CallerSignature, if any.
func SignedCaller(ctx context.Context) (string, bool) {
	addr, ok := ctx.Value(callerKey{}).(string)
	return addr, ok && addr != ""
}

// CallerSignature recovers the acting wallet from a personal_sign signature
// and stores it in the request context. With required set, writes without a
// signature are rejected; reads are never checked.
func CallerSignature(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderCallerSignature)
			if sig == "" {
				if required && isWrite(r.Method) {
					writeUnauthorized(w, "missing caller signature")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ts, err := strconv.ParseInt(r.Header.Get(HeaderCallerTimestamp), 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid caller timestamp")
				return
			}
			skew := time.Since(time.Unix(ts, 0))
			if skew < -callerMaxSkew || skew > callerMaxSkew {
				writeUnauthorized(w, "caller signature expired")
				return
			}
			addr, err := crypto.RecoverAddress(CallerMessage(r.Method, r.URL.Path, ts), sig)
			if err != nil {
				writeUnauthorized(w, "invalid caller signature")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, addr)))
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
