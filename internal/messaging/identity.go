package messaging

import (
	"context"
	"log/slog"

	"github.com/0xshikhar/domie-sub000/internal/domain"
)

// Directory looks up a registered messaging identity for a wallet address.
type Directory interface {
	Lookup(ctx context.Context, address string) (identity string, ok bool, err error)
}

// Resolver implements domain.IdentityResolver over a Directory. It fails
// open: lookup errors and unregistered wallets resolve to the canonical
// address itself.
type Resolver struct {
	dir    Directory
	logger *slog.Logger
}

// NewResolver creates a Resolver. dir may be nil, in which case every
// address resolves to itself.
func NewResolver(dir Directory, logger *slog.Logger) *Resolver {
	return &Resolver{dir: dir, logger: logger.With(slog.String("component", "identity"))}
}

// CanMessage reports whether the address has a registered identity.
func (r *Resolver) CanMessage(ctx context.Context, address string) (bool, error) {
	addr, err := domain.NormalizeAddress(address)
	if err != nil {
		return false, err
	}
	if r.dir == nil {
		return false, nil
	}
	_, ok, err := r.dir.Lookup(ctx, addr)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Resolve returns the messaging identity for address. Only a malformed
// address is an error.
func (r *Resolver) Resolve(ctx context.Context, address string) (string, error) {
	addr, err := domain.NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	if r.dir == nil {
		return addr, nil
	}
	id, ok, err := r.dir.Lookup(ctx, addr)
	if err != nil {
		r.logger.WarnContext(ctx, "identity lookup failed, using address",
			slog.String("address", addr),
			slog.String("error", err.Error()),
		)
		return addr, nil
	}
	if !ok || id == "" {
		return addr, nil
	}
	return id, nil
}

// StaticDirectory is a fixed address to identity map.
type StaticDirectory map[string]string

// Lookup implements Directory.
func (d StaticDirectory) Lookup(_ context.Context, address string) (string, bool, error) {
	id, ok := d[address]
	return id, ok, nil
}

var _ domain.IdentityResolver = (*Resolver)(nil)
