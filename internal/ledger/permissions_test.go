package ledger

import (
	"context"
	"errors"
	"testing"
)

func setupGrantFixtures(t *testing.T) (*InMemory, *ManualClock) {
	t.Helper()
	s, clock := newTestLedger()
	ctx := context.Background()
	if _, err := s.RegisterParticipant(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.VerifyAccessor(ctx, operator, "bob", "clinic"); err != nil {
		t.Fatal(err)
	}
	return s, clock
}

func heightPtr(h Height) *Height { return &h }

func TestGrantPreconditions(t *testing.T) {
	s, clock := setupGrantFixtures(t)
	ctx := context.Background()

	if _, err := s.Grant(ctx, "nobody", "bob", CategoryDocument, nil, 0); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if _, err := s.Grant(ctx, "alice", "eve", CategoryDocument, nil, 0); !errors.Is(err, ErrAccessorNotVerified) {
		t.Fatalf("expected ErrAccessorNotVerified, got %v", err)
	}
	if _, err := s.Grant(ctx, "alice", "bob", Category("gossip"), nil, 0); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}

	clock.Advance(10)
	if _, err := s.Grant(ctx, "alice", "bob", CategoryDocument, heightPtr(10), 0); !errors.Is(err, ErrInvalidExpiry) {
		t.Fatalf("expected ErrInvalidExpiry for expiry == now, got %v", err)
	}
	if _, err := s.Grant(ctx, "alice", "bob", CategoryDocument, heightPtr(3), 0); !errors.Is(err, ErrInvalidExpiry) {
		t.Fatalf("expected ErrInvalidExpiry for expiry < now, got %v", err)
	}
	if len(s.permissions) != 0 {
		t.Fatalf("failed grant created a permission entry")
	}
}

func TestGrantExpiryWindow(t *testing.T) {
	s, clock := setupGrantFixtures(t)
	ctx := context.Background()

	perm, err := s.Grant(ctx, "alice", "bob", CategoryDocument, heightPtr(10), 500)
	if err != nil {
		t.Fatal(err)
	}
	if !perm.HasExpiry || perm.Expiry != 10 || perm.FeeAmount != 500 {
		t.Fatalf("unexpected permission: %+v", perm)
	}

	// Valid on [grant height, expiry), expired at the expiry height itself.
	for h := Height(0); h < 10; h++ {
		ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryDocument)
		if !ok {
			t.Fatalf("expected access at height %d", clock.Height())
		}
		clock.Advance(1)
	}
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryDocument); ok {
		t.Fatalf("access should lapse exactly at the expiry height")
	}
	clock.Advance(100)
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryDocument); ok {
		t.Fatalf("access should stay lapsed past the expiry height")
	}
}

func TestGrantWithoutExpiry(t *testing.T) {
	s, clock := setupGrantFixtures(t)
	ctx := context.Background()

	if _, err := s.Grant(ctx, "alice", "bob", CategoryHealth, nil, 0); err != nil {
		t.Fatal(err)
	}
	clock.Advance(1 << 20)
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryHealth); !ok {
		t.Fatalf("open-ended grant should hold at any future height")
	}
	if err := s.Revoke(ctx, "alice", "bob", CategoryHealth); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryHealth); ok {
		t.Fatalf("revoked grant should not hold")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	s, clock := setupGrantFixtures(t)
	ctx := context.Background()

	if _, err := s.Grant(ctx, "alice", "bob", CategoryDocument, heightPtr(10), 500); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2)
	if err := s.Revoke(ctx, "alice", "bob", CategoryDocument); err != nil {
		t.Fatal(err)
	}
	after := s.permissions[permissionKey{owner: "alice", accessor: "bob", category: CategoryDocument}]
	if after.Granted || after.HasExpiry || after.FeeAmount != 0 {
		t.Fatalf("revoke did not clear fields: %+v", after)
	}
	if after.GrantedAt != 2 {
		t.Fatalf("revoke did not stamp the current height: %+v", after)
	}

	// Second revoke succeeds and leaves identical state.
	if err := s.Revoke(ctx, "alice", "bob", CategoryDocument); err != nil {
		t.Fatal(err)
	}
	again := s.permissions[permissionKey{owner: "alice", accessor: "bob", category: CategoryDocument}]
	if again != after {
		t.Fatalf("double revoke changed state: %+v != %+v", again, after)
	}

	// Revoking a key that never existed also succeeds.
	if err := s.Revoke(ctx, "alice", "bob", CategoryMedia); err != nil {
		t.Fatalf("revoke of absent permission failed: %v", err)
	}
}

func TestRevokeRequiresRegisteredOwnerAndValidCategory(t *testing.T) {
	s, _ := setupGrantFixtures(t)
	ctx := context.Background()

	if err := s.Revoke(ctx, "nobody", "bob", CategoryDocument); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if err := s.Revoke(ctx, "alice", "bob", Category("gossip")); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestRegrantAfterExpiryAndRevoke(t *testing.T) {
	s, clock := setupGrantFixtures(t)
	ctx := context.Background()

	// Scenario: grant with expiry now+10, lapse, revoke, then an open-ended
	// grant brings access back.
	if _, err := s.Grant(ctx, "alice", "bob", CategoryDocument, heightPtr(10), 500); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryDocument); !ok {
		t.Fatalf("grant should be effective immediately")
	}
	clock.Advance(11)
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryDocument); ok {
		t.Fatalf("grant should have lapsed")
	}
	if err := s.Revoke(ctx, "alice", "bob", CategoryDocument); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryDocument); ok {
		t.Fatalf("check should stay false after revoke")
	}
	if _, err := s.Grant(ctx, "alice", "bob", CategoryDocument, nil, 0); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.CheckAccess(ctx, "alice", "bob", CategoryDocument); !ok {
		t.Fatalf("fresh open-ended grant should be effective")
	}
}
