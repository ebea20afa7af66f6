package authtoken

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/internal/kv"
)

const (
	revokedKeyPrefix  = "authtoken:revoked:"
	userTokensPrefix  = "authtoken:user-tokens:"
)

// RevocationStore tracks revoked jtis and the set of jtis issued per user,
// both with TTLs bounded by the token's own remaining lifetime so memory
// never grows unbounded.
type RevocationStore struct {
	kv kv.Store
}

// NewRevocationStore wires a kv.Store (RedisStore in production) as the
// revocation ledger.
func NewRevocationStore(store kv.Store) *RevocationStore {
	return &RevocationStore{kv: store}
}

// Track records jti as belonging to userID, with a TTL equal to the
// token's remaining lifetime, so Revoke-all-for-user can find it later.
func (r *RevocationStore) Track(ctx context.Context, userID, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.kv.SAdd(ctx, userTokensKey(userID), ttl, jti)
}

// IsRevoked reports whether jti has been explicitly revoked.
func (r *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	_, ok, err := r.kv.Get(ctx, revokedKey(jti))
	return ok, err
}

// Revoke marks a single jti revoked until expiresAt.
func (r *RevocationStore) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.kv.Set(ctx, revokedKey(jti), "1", ttl)
}

// RevokeAllForUser revokes every jti tracked for userID — the compensating
// action run when refresh-token reuse is detected (spec.md §7 Integrity).
func (r *RevocationStore) RevokeAllForUser(ctx context.Context, userID string, expiresAt time.Time) error {
	jtis, err := r.kv.SMembers(ctx, userTokensKey(userID))
	if err != nil {
		return fmt.Errorf("authtoken: list user tokens: %w", err)
	}
	for _, jti := range jtis {
		if err := r.Revoke(ctx, jti, expiresAt); err != nil {
			return err
		}
	}
	return nil
}

func revokedKey(jti string) string     { return revokedKeyPrefix + jti }
func userTokensKey(userID string) string { return userTokensPrefix + userID }
