package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
)

const operator = Principal("operator")

func newTestLedger() (*InMemory, *ManualClock) {
	clock := NewManualClock(0)
	return NewInMemory(clock, operator), clock
}

func TestRegisterParticipantTwice(t *testing.T) {
	s, clock := newTestLedger()
	ctx := context.Background()

	first, err := s.RegisterParticipant(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.RegisteredAt != 0 {
		t.Fatalf("unexpected registration height: %d", first.RegisteredAt)
	}

	clock.Advance(5)
	if _, err := s.RegisterParticipant(ctx, "alice"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}

	// The failed call must not have touched the stored entry.
	stored := s.participants["alice"]
	if stored.RegisteredAt != first.RegisteredAt {
		t.Fatalf("registration height changed on failed re-registration: %d", stored.RegisteredAt)
	}
}

func TestRegisterResourceRequiresParticipant(t *testing.T) {
	s, _ := newTestLedger()
	ctx := context.Background()

	if _, err := s.RegisterResource(ctx, "ghost", "sensor-1", "thermometer"); !errors.Is(err, ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if len(s.resources) != 0 {
		t.Fatalf("failed registration created a resource entry")
	}
}

func TestResourceLifecycle(t *testing.T) {
	s, _ := newTestLedger()
	ctx := context.Background()

	if _, err := s.RegisterParticipant(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterResource(ctx, "alice", "sensor-1", "thermometer"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterResource(ctx, "alice", "sensor-1", "thermometer"); !errors.Is(err, ErrResourceAlreadyRegistered) {
		t.Fatalf("expected ErrResourceAlreadyRegistered, got %v", err)
	}

	ok, _ := s.IsResourceRegistered(ctx, "alice", "sensor-1")
	if !ok {
		t.Fatalf("resource should be registered")
	}

	if err := s.RemoveResource(ctx, "alice", "sensor-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveResource(ctx, "alice", "sensor-1"); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
	ok, _ = s.IsResourceRegistered(ctx, "alice", "sensor-1")
	if ok {
		t.Fatalf("removed resource still reported registered")
	}

	// The row is retained, not deleted, and re-registration overwrites it.
	if _, ok := s.resources[resourceKey{owner: "alice", id: "sensor-1"}]; !ok {
		t.Fatalf("soft delete removed the row")
	}
	if _, err := s.RegisterResource(ctx, "alice", "sensor-1", "hygrometer"); err != nil {
		t.Fatal(err)
	}
	ok, _ = s.IsResourceRegistered(ctx, "alice", "sensor-1")
	if !ok {
		t.Fatalf("re-registered resource should be active")
	}
}

func TestVerifyAccessorAuthorization(t *testing.T) {
	s, _ := newTestLedger()
	ctx := context.Background()

	if _, err := s.VerifyAccessor(ctx, "mallory", "bob", "clinic"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := s.VerifyAccessor(ctx, operator, "bob", "clinic"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.VerifyAccessor(ctx, operator, "bob", "clinic"); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected ErrAlreadyVerified, got %v", err)
	}
	ok, _ := s.IsVerified(ctx, "bob")
	if !ok {
		t.Fatalf("accessor should be verified")
	}
}

func TestInputBounds(t *testing.T) {
	s, _ := newTestLedger()
	ctx := context.Background()

	long := strings.Repeat("x", 65)
	if _, err := s.RegisterParticipant(ctx, Principal(long)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized principal, got %v", err)
	}
	if _, err := s.RegisterParticipant(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty principal, got %v", err)
	}

	if _, err := s.RegisterParticipant(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RegisterResource(ctx, "alice", long, "t"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized resource id, got %v", err)
	}
	if _, err := s.RecordAccess(ctx, "alice", "bob", CategoryDocument, strings.Repeat("p", 129), 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized purpose, got %v", err)
	}
}
