package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"grantline.org/internal/ledger"
)

func (s *Store) RecordAccess(ctx context.Context, owner, accessor ledger.Principal, category ledger.Category, purpose string, feeAmount uint64) (ledger.AccessRecord, error) {
	if err := ledger.ValidatePrincipal(owner); err != nil {
		return ledger.AccessRecord{}, err
	}
	if err := ledger.ValidatePrincipal(accessor); err != nil {
		return ledger.AccessRecord{}, err
	}
	if err := ledger.ValidatePurpose(purpose); err != nil {
		return ledger.AccessRecord{}, err
	}
	if !category.Valid() {
		return ledger.AccessRecord{}, ledger.ErrInvalidCategory
	}
	height := s.clock.Height()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.AccessRecord{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// The counter row serializes id allocation: ids stay strictly
	// increasing and gap-free because the increment commits together with
	// the record insert.
	var id uint64
	if err := tx.QueryRowContext(ctx, `
		update access_counter set next_id = next_id + 1
		where singleton returning next_id - 1
	`).Scan(&id); err != nil {
		return ledger.AccessRecord{}, err
	}
	var created time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into access_records(id, owner, accessor, category, purpose, fee_amount, recorded_at)
		values ($1,$2,$3,$4,$5,$6,$7) returning created_at
	`, id, owner, accessor, category, purpose, feeAmount, height).Scan(&created); err != nil {
		return ledger.AccessRecord{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.AccessRecord{}, err
	}
	return ledger.AccessRecord{
		ID:         id,
		Owner:      owner,
		Accessor:   accessor,
		Category:   category,
		Purpose:    purpose,
		FeeAmount:  feeAmount,
		RecordedAt: height,
		CreatedAt:  created,
	}, nil
}

func (s *Store) GetAccessRecord(ctx context.Context, id uint64) (ledger.AccessRecord, bool, error) {
	var rec ledger.AccessRecord
	err := s.db.QueryRowContext(ctx, `
		select id, owner, accessor, category, purpose, fee_amount, recorded_at, created_at
		from access_records where id=$1
	`, id).Scan(&rec.ID, &rec.Owner, &rec.Accessor, &rec.Category, &rec.Purpose, &rec.FeeAmount, &rec.RecordedAt, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.AccessRecord{}, false, nil
	}
	if err != nil {
		return ledger.AccessRecord{}, false, err
	}
	return rec, true, nil
}

func (s *Store) ListAccessRecords(ctx context.Context, limit int, fromID uint64) ([]ledger.AccessRecord, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, owner, accessor, category, purpose, fee_amount, recorded_at, created_at
		from access_records
		where id >= $1
		order by id asc
		limit $2
	`, fromID, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.AccessRecord
	next := fromID
	for rows.Next() {
		var rec ledger.AccessRecord
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.Accessor, &rec.Category, &rec.Purpose, &rec.FeeAmount, &rec.RecordedAt, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		res = append(res, rec)
		next = rec.ID + 1
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, next, nil
}
