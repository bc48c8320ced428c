package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/server/middleware"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// errorResponse is the body of every failed request. Rule and FundsMoved are
// set for ledger writes so clients can tell a rejection from a pending
// outcome.
type errorResponse struct {
	Error      string `json:"error"`
	Rule       string `json:"rule,omitempty"`
	FundsMoved string `json:"funds_moved,omitempty"`
}

// ruleStatus maps ledger rule violations to HTTP status codes.
var ruleStatus = map[domain.Rule]int{
	domain.RuleInvalidArgument:   http.StatusBadRequest,
	domain.RuleBelowMinimum:      http.StatusBadRequest,
	domain.RuleInvalidOption:     http.StatusBadRequest,
	domain.RuleNotFound:          http.StatusNotFound,
	domain.RuleUnauthorized:      http.StatusForbidden,
	domain.RuleNotParticipant:    http.StatusForbidden,
	domain.RuleWrongStatus:       http.StatusConflict,
	domain.RuleDeadlinePassed:    http.StatusConflict,
	domain.RuleExceedsTarget:     http.StatusConflict,
	domain.RuleMaxParticipants:   http.StatusConflict,
	domain.RuleAlreadyRefunded:   http.StatusConflict,
	domain.RuleTokenAlreadySet:   http.StatusConflict,
	domain.RuleDuplicateProposal: http.StatusConflict,
	domain.RuleProposalClosed:    http.StatusConflict,
}

// writeLedgerError reports a failed ledger write. Rule violations carry the
// rule and funds_moved "no"; a pending submission answers 202 with
// funds_moved "unknown" so the client checks back instead of retrying.
func writeLedgerError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	resp := errorResponse{Error: err.Error(), FundsMoved: domain.FundsMoved(err)}
	var status int
	switch {
	case domain.IsRuleViolation(err):
		rule := domain.RuleOf(err)
		resp.Rule = string(rule)
		status = http.StatusConflict
		if s, ok := ruleStatus[rule]; ok {
			status = s
		}
	case errors.Is(err, domain.ErrOutcomeUnknown):
		status = http.StatusAccepted
	case errors.Is(err, domain.ErrTxReverted):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		status = http.StatusTooManyRequests
		resp.FundsMoved = "no"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		resp.FundsMoved = ""
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		logger.ErrorContext(r.Context(), "handler: ledger write failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		resp.Error = op + " failed"
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// writeReadError reports a failed read: 404 for unknown ids, 500 otherwise.
func writeReadError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if errors.Is(err, domain.ErrNotFound) || domain.RuleOf(err) == domain.RuleNotFound {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	logger.ErrorContext(r.Context(), "handler: read failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// dealID parses the {id} path parameter.
func dealID(r *http.Request) (uint64, error) {
	raw := pathParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid deal id %q", raw)
	}
	return id, nil
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// callerAddress resolves the acting address of a write. A signature-verified
// caller from the middleware wins; a different address in the body is
// rejected.
func callerAddress(r *http.Request, fromBody string) (string, error) {
	signed, ok := middleware.SignedCaller(r.Context())
	if ok {
		if fromBody != "" && !domain.SameAddress(fromBody, signed) {
			return "", domain.NewRuleError(domain.RuleUnauthorized, "caller", 0, "body caller does not match signature")
		}
		return signed, nil
	}
	if fromBody == "" {
		return "", domain.NewRuleError(domain.RuleInvalidArgument, "caller", 0, "caller is required")
	}
	return domain.NormalizeAddress(fromBody)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
