package pg

import (
	"context"
	"database/sql"
	"errors"

	"grantline.org/internal/ledger"
)

func (s *Store) Grant(ctx context.Context, owner, accessor ledger.Principal, category ledger.Category, expiry *ledger.Height, feeAmount uint64) (ledger.Permission, error) {
	if err := ledger.ValidatePrincipal(owner); err != nil {
		return ledger.Permission{}, err
	}
	if err := ledger.ValidatePrincipal(accessor); err != nil {
		return ledger.Permission{}, err
	}
	now := s.clock.Height()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Permission{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var registered bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from participants where principal=$1)`, owner).Scan(&registered); err != nil {
		return ledger.Permission{}, err
	}
	if !registered {
		return ledger.Permission{}, ledger.ErrParticipantNotFound
	}
	var verified bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from accessors where principal=$1)`, accessor).Scan(&verified); err != nil {
		return ledger.Permission{}, err
	}
	if !verified {
		return ledger.Permission{}, ledger.ErrAccessorNotVerified
	}
	if !category.Valid() {
		return ledger.Permission{}, ledger.ErrInvalidCategory
	}
	if expiry != nil && *expiry <= now {
		return ledger.Permission{}, ledger.ErrInvalidExpiry
	}

	perm := ledger.Permission{
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
	if _, err := tx.ExecContext(ctx, `
		insert into permissions(owner, accessor, category, granted, expiry, has_expiry, fee_amount, granted_at)
		values ($1,$2,$3,true,$4,$5,$6,$7)
		on conflict (owner, accessor, category) do update
		set granted = true,
		    expiry = excluded.expiry,
		    has_expiry = excluded.has_expiry,
		    fee_amount = excluded.fee_amount,
		    granted_at = excluded.granted_at
	`, owner, accessor, category, perm.Expiry, perm.HasExpiry, feeAmount, now); err != nil {
		return ledger.Permission{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Permission{}, err
	}
	return perm, nil
}

func (s *Store) Revoke(ctx context.Context, owner, accessor ledger.Principal, category ledger.Category) error {
	if err := ledger.ValidatePrincipal(owner); err != nil {
		return err
	}
	if err := ledger.ValidatePrincipal(accessor); err != nil {
		return err
	}
	now := s.clock.Height()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var registered bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from participants where principal=$1)`, owner).Scan(&registered); err != nil {
		return err
	}
	if !registered {
		return ledger.ErrParticipantNotFound
	}
	if !category.Valid() {
		return ledger.ErrInvalidCategory
	}
	if _, err := tx.ExecContext(ctx, `
		insert into permissions(owner, accessor, category, granted, expiry, has_expiry, fee_amount, granted_at)
		values ($1,$2,$3,false,0,false,0,$4)
		on conflict (owner, accessor, category) do update
		set granted = false,
		    expiry = 0,
		    has_expiry = false,
		    fee_amount = 0,
		    granted_at = excluded.granted_at
	`, owner, accessor, category, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CheckAccess(ctx context.Context, owner, accessor ledger.Principal, category ledger.Category) (bool, error) {
	var perm ledger.Permission
	err := s.db.QueryRowContext(ctx, `
		select granted, expiry, has_expiry
		from permissions
		where owner=$1 and accessor=$2 and category=$3
	`, owner, accessor, category).Scan(&perm.Granted, &perm.Expiry, &perm.HasExpiry)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return perm.EffectiveAt(s.clock.Height()), nil
}
