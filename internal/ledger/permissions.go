package ledger

import "context"

// Grant upserts the permission for (owner, accessor, category). A prior entry
// for the same key is overwritten; the audit trail, not the permission row, is
// the history. An expiry at or before the current height is rejected up front
// so a grant can never be created already expired.
func (s *InMemory) Grant(ctx context.Context, owner, accessor Principal, category Category, expiry *Height, feeAmount uint64) (Permission, error) {
	if err := ValidatePrincipal(owner); err != nil {
		return Permission{}, err
	}
	if err := ValidatePrincipal(accessor); err != nil {
		return Permission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[owner]; !ok {
		return Permission{}, ErrParticipantNotFound
	}
	if _, ok := s.accessors[accessor]; !ok {
		return Permission{}, ErrAccessorNotVerified
	}
	if !category.Valid() {
		return Permission{}, ErrInvalidCategory
	}
	now := s.clock.Height()
	if expiry != nil && *expiry <= now {
		return Permission{}, ErrInvalidExpiry
	}

	perm := Permission{
		Owner:     owner,
		Accessor:  accessor,
		Category:  category,
		Granted:   true,
		FeeAmount: feeAmount,
		GrantedAt: now,
	}
	if expiry != nil {
		perm.Expiry = *expiry
		perm.HasExpiry = true
	}
	s.permissions[permissionKey{owner: owner, accessor: accessor, category: category}] = perm
	return perm, nil
}

// Revoke disables the permission without deleting the row. Revoking an absent
// or already-revoked permission succeeds; two revokes in a row leave the same
// state as one.
func (s *InMemory) Revoke(ctx context.Context, owner, accessor Principal, category Category) error {
	if err := ValidatePrincipal(owner); err != nil {
		return err
	}
	if err := ValidatePrincipal(accessor); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[owner]; !ok {
		return ErrParticipantNotFound
	}
	if !category.Valid() {
		return ErrInvalidCategory
	}
	s.permissions[permissionKey{owner: owner, accessor: accessor, category: category}] = Permission{
		Owner:     owner,
		Accessor:  accessor,
		Category:  category,
		Granted:   false,
		GrantedAt: s.clock.Height(),
	}
	return nil
}

// CheckAccess evaluates the effective-validity predicate at the current
// height. An absent entry is false.
func (s *InMemory) CheckAccess(ctx context.Context, owner, accessor Principal, category Category) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perm, ok := s.permissions[permissionKey{owner: owner, accessor: accessor, category: category}]
	if !ok {
		return false, nil
	}
	return perm.EffectiveAt(s.clock.Height()), nil
}
