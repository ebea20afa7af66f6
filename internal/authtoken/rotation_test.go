package authtoken_test

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/authtoken"
	"github.com/haasonsaas/nexus/internal/kv"
	"github.com/haasonsaas/nexus/pkg/models"
)

type stubDeviceRevoker struct {
	revokedUsers []string
}

func (r *stubDeviceRevoker) RevokeAllDeviceSessions(ctx context.Context, userID string) error {
	r.revokedUsers = append(r.revokedUsers, userID)
	return nil
}

func newTestRotator() (*authtoken.Rotator, *stubDeviceRevoker) {
	tokens := authtoken.NewService(authtoken.Config{Secret: []byte("test-secret")})
	revoked := authtoken.NewRevocationStore(kv.NewMemoryStore())
	sessions := &stubDeviceRevoker{}
	return authtoken.NewRotator(tokens, revoked, sessions), sessions
}

func TestIssueAndParseAccessToken(t *testing.T) {
	rotator, _ := newTestRotator()

	access, refresh, err := rotator.Issue(context.Background(), "user-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if access == "" || refresh == "" {
		t.Fatal("expected non-empty access and refresh tokens")
	}

	claims, err := rotator.ValidateAccess(context.Background(), access)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != "member" {
		t.Errorf("claims = %+v, want subject=user-1 role=member", claims)
	}
}

func TestRefreshRotatesToFreshPair(t *testing.T) {
	rotator, _ := newTestRotator()

	_, refresh, err := rotator.Issue(context.Background(), "user-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	newAccess, newRefresh, err := rotator.Refresh(context.Background(), refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if newAccess == "" || newRefresh == "" {
		t.Fatal("expected a fresh pair")
	}
	if newRefresh == refresh {
		t.Error("expected a different refresh token after rotation")
	}
}

func TestRefreshReuseDetectedRevokesAllUserTokens(t *testing.T) {
	rotator, sessions := newTestRotator()

	_, refresh, err := rotator.Issue(context.Background(), "user-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// First use rotates cleanly.
	if _, _, err := rotator.Refresh(context.Background(), refresh); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Replaying the same (now-consumed) refresh token is reuse.
	_, _, err = rotator.Refresh(context.Background(), refresh)
	if err != authtoken.ErrReuseDetected {
		t.Fatalf("replayed refresh err = %v, want ErrReuseDetected", err)
	}
	if len(sessions.revokedUsers) != 1 || sessions.revokedUsers[0] != "user-1" {
		t.Fatalf("revokedUsers = %v, want [user-1]", sessions.revokedUsers)
	}
}

func TestRefreshRejectsAccessTokenType(t *testing.T) {
	rotator, _ := newTestRotator()

	access, _, err := rotator.Issue(context.Background(), "user-1", "member")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, _, err := rotator.Refresh(context.Background(), access); err != authtoken.ErrWrongType {
		t.Fatalf("refresh with access token err = %v, want ErrWrongType", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	tokens := authtoken.NewService(authtoken.Config{
		Secret:    []byte("test-secret"),
		AccessTTL: time.Nanosecond,
	})
	access, _, _, _, err := tokens.IssuePair("user-1", "member")
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	if _, err := tokens.Parse(access, models.TokenAccess); err != authtoken.ErrExpiredToken {
		t.Fatalf("parse expired err = %v, want ErrExpiredToken", err)
	}
}
