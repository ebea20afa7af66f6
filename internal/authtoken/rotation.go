package authtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

// ErrReuseDetected is returned when a refresh token that was already
// consumed is presented again — a signal the token was stolen.
var ErrReuseDetected = errors.New("authtoken: refresh token reuse detected")

// DeviceSessionRevoker marks every device session for a user revoked, part
// of the reuse-detected compensating action.
type DeviceSessionRevoker interface {
	RevokeAllDeviceSessions(ctx context.Context, userID string) error
}

// Rotator issues token pairs and rotates refresh tokens with reuse
// detection, composing Service and RevocationStore.
type Rotator struct {
	tokens   *Service
	revoked  *RevocationStore
	sessions DeviceSessionRevoker
}

// NewRotator wires a Service, RevocationStore, and DeviceSessionRevoker.
func NewRotator(tokens *Service, revoked *RevocationStore, sessions DeviceSessionRevoker) *Rotator {
	return &Rotator{tokens: tokens, revoked: revoked, sessions: sessions}
}

// Issue mints a fresh access/refresh pair for subject/role and tracks both
// jtis for this user so a future reuse-detected event can revoke them.
func (r *Rotator) Issue(ctx context.Context, subject, role string) (access, refresh string, err error) {
	access, refresh, accessClaims, refreshClaims, err := r.tokens.IssuePair(subject, role)
	if err != nil {
		return "", "", err
	}
	if err := r.revoked.Track(ctx, subject, accessClaims.JTI, accessClaims.ExpiresAt); err != nil {
		return "", "", err
	}
	if err := r.revoked.Track(ctx, subject, refreshClaims.JTI, refreshClaims.ExpiresAt); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Refresh validates refreshToken, detects reuse of an already-rotated
// token, and on success issues a fresh pair while revoking the presented
// refresh token so it cannot be replayed. Reuse of a revoked refresh token
// triggers the integrity compensating action: every token for the user is
// revoked and every device session is marked revoked, then an error is
// returned — the caller never gets a new pair in that case.
func (r *Rotator) Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error) {
	claims, err := r.tokens.Parse(refreshToken, models.TokenRefresh)
	if err != nil {
		return "", "", err
	}

	wasRevoked, err := r.revoked.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return "", "", err
	}
	if wasRevoked {
		if revokeErr := r.revoked.RevokeAllForUser(ctx, claims.Subject, time.Now().Add(24*time.Hour)); revokeErr != nil {
			return "", "", fmt.Errorf("authtoken: compensating revoke-all failed: %w", revokeErr)
		}
		if r.sessions != nil {
			_ = r.sessions.RevokeAllDeviceSessions(ctx, claims.Subject)
		}
		return "", "", ErrReuseDetected
	}

	// Rotation: the presented refresh token is consumed immediately so any
	// later replay is recognized as reuse.
	if err := r.revoked.Revoke(ctx, claims.JTI, claims.ExpiresAt); err != nil {
		return "", "", err
	}

	return r.Issue(ctx, claims.Subject, claims.Role)
}

// ValidateAccess parses an access token and rejects it if its jti has been
// revoked (e.g. by a reuse-detected compensating action).
func (r *Rotator) ValidateAccess(ctx context.Context, accessToken string) (models.TokenClaims, error) {
	claims, err := r.tokens.Parse(accessToken, models.TokenAccess)
	if err != nil {
		return models.TokenClaims{}, err
	}
	revoked, err := r.revoked.IsRevoked(ctx, claims.JTI)
	if err != nil {
		return models.TokenClaims{}, err
	}
	if revoked {
		return models.TokenClaims{}, ErrRevoked
	}
	return claims, nil
}
