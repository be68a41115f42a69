package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"grantline.org/internal/ledger"
)

// Store is the Postgres-backed permission ledger. Read-modify-write
// operations run in serializable transactions so the store keeps the same
// linearizable behavior as the in-memory variant.
type Store struct {
	db       *sql.DB
	clock    ledger.Clock
	operator ledger.Principal
}

var _ ledger.Service = (*Store)(nil)

// Open connects to Postgres. The operator principal is the only caller
// allowed to verify accessors.
func Open(dsn string, clock ledger.Clock, operator ledger.Principal) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, clock, operator), nil
}

// NewStore wraps an existing database handle. Used by tests with sqlmock.
func NewStore(db *sql.DB, clock ledger.Clock, operator ledger.Principal) *Store {
	return &Store{db: db, clock: clock, operator: operator}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) RegisterParticipant(ctx context.Context, caller ledger.Principal) (ledger.Participant, error) {
	if err := ledger.ValidatePrincipal(caller); err != nil {
		return ledger.Participant{}, err
	}
	height := s.clock.Height()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Participant{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from participants where principal=$1)`, caller).Scan(&exists); err != nil {
		return ledger.Participant{}, err
	}
	if exists {
		return ledger.Participant{}, ledger.ErrAlreadyRegistered
	}
	var created time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into participants(principal, registered_at)
		values ($1,$2) returning created_at
	`, caller, height).Scan(&created); err != nil {
		return ledger.Participant{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Participant{}, err
	}
	return ledger.Participant{Principal: caller, RegisteredAt: height, CreatedAt: created}, nil
}

func (s *Store) RegisterResource(ctx context.Context, caller ledger.Principal, resourceID, resourceType string) (ledger.Resource, error) {
	if err := ledger.ValidateResourceInput(caller, resourceID, resourceType); err != nil {
		return ledger.Resource{}, err
	}
	height := s.clock.Height()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Resource{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var registered bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from participants where principal=$1)`, caller).Scan(&registered); err != nil {
		return ledger.Resource{}, err
	}
	if !registered {
		return ledger.Resource{}, ledger.ErrParticipantNotFound
	}

	var active bool
	err = tx.QueryRowContext(ctx,
		`select active from resources where owner=$1 and resource_id=$2`, caller, resourceID).Scan(&active)
	switch {
	case err == nil && active:
		return ledger.Resource{}, ledger.ErrResourceAlreadyRegistered
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return ledger.Resource{}, err
	}

	var created time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into resources(owner, resource_id, resource_type, active, registered_at)
		values ($1,$2,$3,true,$4)
		on conflict (owner, resource_id) do update
		set resource_type = excluded.resource_type,
		    active = true,
		    registered_at = excluded.registered_at
		returning created_at
	`, caller, resourceID, resourceType, height).Scan(&created); err != nil {
		return ledger.Resource{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Resource{}, err
	}
	return ledger.Resource{
		Owner:        caller,
		ID:           resourceID,
		Type:         resourceType,
		Active:       true,
		RegisteredAt: height,
		CreatedAt:    created,
	}, nil
}

func (s *Store) RemoveResource(ctx context.Context, caller ledger.Principal, resourceID string) error {
	if err := ledger.ValidatePrincipal(caller); err != nil {
		return err
	}
	// Single-statement soft delete: the active predicate makes it atomic.
	res, err := s.db.ExecContext(ctx, `
		update resources set active = false
		where owner=$1 and resource_id=$2 and active
	`, caller, resourceID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrResourceNotFound
	}
	return nil
}

func (s *Store) IsRegistered(ctx context.Context, principal ledger.Principal) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from participants where principal=$1)`, principal).Scan(&exists)
	return exists, err
}

func (s *Store) IsResourceRegistered(ctx context.Context, owner ledger.Principal, resourceID string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		`select active from resources where owner=$1 and resource_id=$2`, owner, resourceID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (s *Store) VerifyAccessor(ctx context.Context, caller, accessor ledger.Principal, accessorType string) (ledger.Accessor, error) {
	if err := ledger.ValidateAccessorInput(caller, accessor, accessorType); err != nil {
		return ledger.Accessor{}, err
	}
	if caller != s.operator {
		return ledger.Accessor{}, ledger.ErrUnauthorized
	}
	height := s.clock.Height()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Accessor{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`select exists(select 1 from accessors where principal=$1)`, accessor).Scan(&exists); err != nil {
		return ledger.Accessor{}, err
	}
	if exists {
		return ledger.Accessor{}, ledger.ErrAlreadyVerified
	}
	var created time.Time
	if err := tx.QueryRowContext(ctx, `
		insert into accessors(principal, accessor_type, verified_at)
		values ($1,$2,$3) returning created_at
	`, accessor, accessorType, height).Scan(&created); err != nil {
		return ledger.Accessor{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Accessor{}, err
	}
	return ledger.Accessor{Principal: accessor, Type: accessorType, VerifiedAt: height, CreatedAt: created}, nil
}

func (s *Store) IsVerified(ctx context.Context, principal ledger.Principal) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from accessors where principal=$1)`, principal).Scan(&exists)
	return exists, err
}
