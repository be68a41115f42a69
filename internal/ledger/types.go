package ledger

import (
	"errors"
	"strings"
	"time"
)

// Height is the monotonic clock value supplied by the host environment.
// The ledger only ever compares against it, never advances it.
type Height uint64

// Principal identifies a participant, accessor or operator.
type Principal string

// Category classifies the data a permission covers. The set is closed;
// anything outside it fails ErrInvalidCategory.
type Category string

const (
	CategoryDocument  Category = "document"
	CategoryMedia     Category = "media"
	CategoryTelemetry Category = "telemetry"
	CategoryLocation  Category = "location"
	CategoryFinancial Category = "financial"
	CategoryHealth    Category = "health"
)

var categories = map[Category]struct{}{
	CategoryDocument:  {},
	CategoryMedia:     {},
	CategoryTelemetry: {},
	CategoryLocation:  {},
	CategoryFinancial: {},
	CategoryHealth:    {},
}

// Valid reports whether c belongs to the enumerated set.
func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Categories returns the closed category set in stable order.
func Categories() []Category {
	return []Category{
		CategoryDocument,
		CategoryMedia,
		CategoryTelemetry,
		CategoryLocation,
		CategoryFinancial,
		CategoryHealth,
	}
}

const (
	maxPrincipalLen = 64
	maxResourceLen  = 64
	maxTypeLen      = 64
	maxPurposeLen   = 128
)

// Participant is created on first self-registration and never deleted.
type Participant struct {
	Principal    Principal `json:"principal"`
	RegisteredAt Height    `json:"registered_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Resource is a sub-entity owned by a participant, keyed by (owner, id).
// Removal is a soft delete: Active flips to false and the row is retained.
type Resource struct {
	Owner        Principal `json:"owner"`
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Active       bool      `json:"active"`
	RegisteredAt Height    `json:"registered_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Accessor is a principal an operator has cleared to request access.
// There is no un-verify: once verified, always verified.
type Accessor struct {
	Principal  Principal `json:"principal"`
	Type       string    `json:"type"`
	VerifiedAt Height    `json:"verified_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Permission is the grant state for one (owner, accessor, category) key.
// A revoked row persists with Granted=false for audit visibility; only
// EffectiveAt, not raw fields, is the access decision.
type Permission struct {
	Owner     Principal `json:"owner"`
	Accessor  Principal `json:"accessor"`
	Category  Category  `json:"category"`
	Granted   bool      `json:"granted"`
	Expiry    Height    `json:"expiry"`
	HasExpiry bool      `json:"has_expiry"`
	FeeAmount uint64    `json:"fee_amount"`
	GrantedAt Height    `json:"granted_at"`
}

// EffectiveAt reports whether the permission authorizes access at height now.
// A grant with an expiry lapses exactly at the stored height: now < Expiry,
// strictly.
func (p Permission) EffectiveAt(now Height) bool {
	if !p.Granted {
		return false
	}
	if !p.HasExpiry {
		return true
	}
	return now < p.Expiry
}

// AccessRecord is one immutable entry of the audit trail. IDs start at 0,
// are gap-free and are never reused; their order equals insertion order.
type AccessRecord struct {
	ID         uint64    `json:"id"`
	Owner      Principal `json:"owner"`
	Accessor   Principal `json:"accessor"`
	Category   Category  `json:"category"`
	Purpose    string    `json:"purpose"`
	FeeAmount  uint64    `json:"fee_amount"`
	RecordedAt Height    `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrInvalidInput              = errors.New("ledger: invalid input")
	ErrAlreadyRegistered         = errors.New("ledger: participant already registered")
	ErrParticipantNotFound       = errors.New("ledger: participant not registered")
	ErrResourceAlreadyRegistered = errors.New("ledger: resource already registered")
	ErrResourceNotFound          = errors.New("ledger: resource not registered")
	ErrUnauthorized              = errors.New("ledger: unauthorized")
	ErrAlreadyVerified           = errors.New("ledger: accessor already verified")
	ErrAccessorNotVerified       = errors.New("ledger: accessor not verified")
	ErrInvalidCategory           = errors.New("ledger: invalid category")
	ErrInvalidExpiry             = errors.New("ledger: expiry must be after current height")
)

// ValidatePrincipal rejects empty, padded or oversized principals.
func ValidatePrincipal(p Principal) error {
	trimmed := strings.TrimSpace(string(p))
	if trimmed == "" || trimmed != string(p) {
		return ErrInvalidInput
	}
	if len(p) > maxPrincipalLen {
		return ErrInvalidInput
	}
	return nil
}

// ValidateResourceInput checks the register_resource argument bounds.
func ValidateResourceInput(owner Principal, resourceID, resourceType string) error {
	if err := ValidatePrincipal(owner); err != nil {
		return err
	}
	if err := validateBounded(resourceID, maxResourceLen); err != nil {
		return err
	}
	return validateBounded(resourceType, maxTypeLen)
}

// ValidateAccessorInput checks the verify_accessor argument bounds.
func ValidateAccessorInput(caller, accessor Principal, accessorType string) error {
	if err := ValidatePrincipal(caller); err != nil {
		return err
	}
	if err := ValidatePrincipal(accessor); err != nil {
		return err
	}
	return validateBounded(accessorType, maxTypeLen)
}

// ValidatePurpose checks the record_access purpose bound.
func ValidatePurpose(purpose string) error {
	return validateBounded(purpose, maxPurposeLen)
}

func validateBounded(s string, max int) error {
	if strings.TrimSpace(s) == "" || len(s) > max {
		return ErrInvalidInput
	}
	return nil
}
