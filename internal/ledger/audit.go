package ledger

import "context"

// RecordAccess appends an immutable entry to the audit trail and returns it.
// It is a recording primitive, not an enforcement primitive: callers compose
// CheckAccess and RecordAccess themselves, and the trail trusts its caller.
// Ids come from a single counter guarded by the store lock, so the sequence
// is strictly increasing and gap-free under any concurrent host.
func (s *InMemory) RecordAccess(ctx context.Context, owner, accessor Principal, category Category, purpose string, feeAmount uint64) (AccessRecord, error) {
	if err := ValidatePrincipal(owner); err != nil {
		return AccessRecord{}, err
	}
	if err := ValidatePrincipal(accessor); err != nil {
		return AccessRecord{}, err
	}
	if err := ValidatePurpose(purpose); err != nil {
		return AccessRecord{}, err
	}
	if !category.Valid() {
		return AccessRecord{}, ErrInvalidCategory
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := AccessRecord{
		ID:         s.nextAccess,
		Owner:      owner,
		Accessor:   accessor,
		Category:   category,
		Purpose:    purpose,
		FeeAmount:  feeAmount,
		RecordedAt: s.clock.Height(),
		CreatedAt:  s.now().UTC(),
	}
	s.nextAccess++
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *InMemory) GetAccessRecord(ctx context.Context, id uint64) (AccessRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= uint64(len(s.records)) {
		return AccessRecord{}, false, nil
	}
	return s.records[id], true, nil
}

// ListAccessRecords pages through the trail in id order, starting at fromID
// inclusive. The second return value is the cursor for the next page. There
// is no per-participant index: history lookup by owner or accessor requires
// an external consumer of this feed.
func (s *InMemory) ListAccessRecords(ctx context.Context, limit int, fromID uint64) ([]AccessRecord, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Records are dense and zero-based, so fromID maps directly to an index.
	if fromID >= uint64(len(s.records)) {
		return nil, fromID, nil
	}
	start := int(fromID)
	end := start + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	out := make([]AccessRecord, end-start)
	copy(out, s.records[start:end])
	return out, uint64(end), nil
}
