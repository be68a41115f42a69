package ledger

import (
	"context"
	"sync"
	"time"
)

// Service defines the permission ledger operations.
//
// Every state-changing call receives the authenticated caller principal and
// performs all precondition checks before any mutation: a failed call leaves
// every mapping untouched. Queries report absence as false/empty, not as a
// domain error; the error return exists for storage backends that can fail
// on I/O.
type Service interface {
	RegisterParticipant(ctx context.Context, caller Principal) (Participant, error)
	RegisterResource(ctx context.Context, caller Principal, resourceID, resourceType string) (Resource, error)
	RemoveResource(ctx context.Context, caller Principal, resourceID string) error
	IsRegistered(ctx context.Context, principal Principal) (bool, error)
	IsResourceRegistered(ctx context.Context, owner Principal, resourceID string) (bool, error)

	VerifyAccessor(ctx context.Context, caller, accessor Principal, accessorType string) (Accessor, error)
	IsVerified(ctx context.Context, principal Principal) (bool, error)

	Grant(ctx context.Context, owner, accessor Principal, category Category, expiry *Height, feeAmount uint64) (Permission, error)
	Revoke(ctx context.Context, owner, accessor Principal, category Category) error
	CheckAccess(ctx context.Context, owner, accessor Principal, category Category) (bool, error)

	RecordAccess(ctx context.Context, owner, accessor Principal, category Category, purpose string, feeAmount uint64) (AccessRecord, error)
	GetAccessRecord(ctx context.Context, id uint64) (AccessRecord, bool, error)
	ListAccessRecords(ctx context.Context, limit int, fromID uint64) ([]AccessRecord, uint64, error)
}

type resourceKey struct {
	owner Principal
	id    string
}

type permissionKey struct {
	owner    Principal
	accessor Principal
	category Category
}

// InMemory implements Service with in-process concurrency safety. A single
// lock guards the whole store so that read-modify-write sequences stay atomic,
// matching the serial execution model of the ledger.
type InMemory struct {
	mu       sync.RWMutex
	clock    Clock
	operator Principal
	now      func() time.Time

	participants map[Principal]Participant
	resources    map[resourceKey]Resource
	accessors    map[Principal]Accessor
	permissions  map[permissionKey]Permission

	nextAccess uint64
	records    []AccessRecord
}

// Option configures InMemory.
type Option func(*InMemory)

// WithNow overrides the wall-time source used for informational timestamps.
func WithNow(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates a fresh ledger. The operator principal is the only
// caller allowed to verify accessors.
func NewInMemory(clock Clock, operator Principal, opts ...Option) *InMemory {
	s := &InMemory{
		clock:        clock,
		operator:     operator,
		now:          time.Now,
		participants: make(map[Principal]Participant),
		resources:    make(map[resourceKey]Resource),
		accessors:    make(map[Principal]Accessor),
		permissions:  make(map[permissionKey]Permission),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) RegisterParticipant(ctx context.Context, caller Principal) (Participant, error) {
	if err := ValidatePrincipal(caller); err != nil {
		return Participant{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[caller]; ok {
		return Participant{}, ErrAlreadyRegistered
	}
	p := Participant{
		Principal:    caller,
		RegisteredAt: s.clock.Height(),
		CreatedAt:    s.now().UTC(),
	}
	s.participants[caller] = p
	return p, nil
}

func (s *InMemory) RegisterResource(ctx context.Context, caller Principal, resourceID, resourceType string) (Resource, error) {
	if err := ValidateResourceInput(caller, resourceID, resourceType); err != nil {
		return Resource{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[caller]; !ok {
		return Resource{}, ErrParticipantNotFound
	}
	key := resourceKey{owner: caller, id: resourceID}
	if existing, ok := s.resources[key]; ok && existing.Active {
		return Resource{}, ErrResourceAlreadyRegistered
	}
	res := Resource{
		Owner:        caller,
		ID:           resourceID,
		Type:         resourceType,
		Active:       true,
		RegisteredAt: s.clock.Height(),
		CreatedAt:    s.now().UTC(),
	}
	s.resources[key] = res
	return res, nil
}

func (s *InMemory) RemoveResource(ctx context.Context, caller Principal, resourceID string) error {
	if err := ValidatePrincipal(caller); err != nil {
		return err
	}
	if err := validateBounded(resourceID, maxResourceLen); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := resourceKey{owner: caller, id: resourceID}
	existing, ok := s.resources[key]
	if !ok || !existing.Active {
		return ErrResourceNotFound
	}
	existing.Active = false
	s.resources[key] = existing
	return nil
}

func (s *InMemory) IsRegistered(ctx context.Context, principal Principal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participants[principal]
	return ok, nil
}

func (s *InMemory) IsResourceRegistered(ctx context.Context, owner Principal, resourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.resources[resourceKey{owner: owner, id: resourceID}]
	return ok && res.Active, nil
}

func (s *InMemory) VerifyAccessor(ctx context.Context, caller, accessor Principal, accessorType string) (Accessor, error) {
	if err := ValidateAccessorInput(caller, accessor, accessorType); err != nil {
		return Accessor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if caller != s.operator {
		return Accessor{}, ErrUnauthorized
	}
	if _, ok := s.accessors[accessor]; ok {
		return Accessor{}, ErrAlreadyVerified
	}
	a := Accessor{
		Principal:  accessor,
		Type:       accessorType,
		VerifiedAt: s.clock.Height(),
		CreatedAt:  s.now().UTC(),
	}
	s.accessors[accessor] = a
	return a, nil
}

func (s *InMemory) IsVerified(ctx context.Context, principal Principal) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accessors[principal]
	return ok, nil
}
