// Package identity implements the selector/hash identity store.
//
// A single shared secret (the 13-digit ID number) doubles as username
// and password. It is never persisted: lookup goes through a keyed,
// deterministic selector, and verification goes through a randomized
// memory-hard hash. The split keeps lookup O(1) without ever indexing
// on a guessable transform of the raw value.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"docvault/internal/server/database"
)

var (
	// ErrInvalidID means the raw ID failed format validation.
	ErrInvalidID = errors.New("id number must be exactly 13 digits")
	// ErrAlreadyRegistered means an identity with this ID exists.
	ErrAlreadyRegistered = errors.New("identity already registered")
	// ErrInvalidCredentials is the single outward failure for both
	// unknown-selector and hash-mismatch, so responses cannot be used
	// to enumerate registered IDs.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const rawIDLength = 13

// Repository is the persistence surface the store needs.
type Repository interface {
	Create(ctx context.Context, identity *database.Identity) error
	GetBySelector(ctx context.Context, selector string) (*database.Identity, error)
}

// Store derives selectors and secret hashes from raw IDs and
// registers/verifies identities against the repository.
type Store struct {
	repo           Repository
	selectorSecret []byte
	params         Argon2Params
}

// NewStore creates a Store. The selector secret is process-wide and
// must not be empty; the Argon2 parameters are fixed at construction.
func NewStore(repo Repository, selectorSecret []byte, params Argon2Params) (*Store, error) {
	if len(selectorSecret) == 0 {
		return nil, errors.New("selector secret is required")
	}
	return &Store{
		repo:           repo,
		selectorSecret: selectorSecret,
		params:         params,
	}, nil
}

// Selector derives the deterministic lookup key for a raw ID:
// hex(HMAC-SHA256(selectorSecret, normalize(rawID))). The same ID
// always yields the same selector, across calls and restarts.
func (s *Store) Selector(rawID string) string {
	mac := hmac.New(sha256.New, s.selectorSecret)
	mac.Write([]byte(normalize(rawID)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Register creates a new identity for rawID. The uniqueness check is
// enforced by the repository's unique constraint, so concurrent
// registrations of the same ID cannot both succeed.
func (s *Store) Register(ctx context.Context, rawID, displayName string) (*database.Identity, error) {
	rawID = normalize(rawID)
	if err := validateRawID(rawID); err != nil {
		return nil, err
	}

	secretHash, err := hashSecret(rawID, s.params)
	if err != nil {
		return nil, err
	}

	identity := &database.Identity{
		Selector:    s.Selector(rawID),
		SecretHash:  secretHash,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, identity); err != nil {
		if errors.Is(err, database.ErrIdentityExists) {
			return nil, ErrAlreadyRegistered
		}
		return nil, err
	}
	return identity, nil
}

// Verify checks rawID against the stored record. Unknown selector and
// hash mismatch are logged distinctly but both return
// ErrInvalidCredentials.
func (s *Store) Verify(ctx context.Context, rawID string) (*database.Identity, error) {
	rawID = normalize(rawID)
	if err := validateRawID(rawID); err != nil {
		// Malformed IDs cannot be registered, so this is just another
		// failed login from the caller's point of view.
		return nil, ErrInvalidCredentials
	}

	selector := s.Selector(rawID)
	identity, err := s.repo.GetBySelector(ctx, selector)
	if err != nil {
		if errors.Is(err, database.ErrIdentityNotFound) {
			slog.Debug("login failed: unknown selector", "selector", truncate(selector))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := verifySecret(rawID, identity.SecretHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Debug("login failed: hash mismatch", "selector", truncate(selector))
		return nil, ErrInvalidCredentials
	}
	return identity, nil
}

func normalize(rawID string) string {
	return strings.TrimSpace(rawID)
}

func validateRawID(rawID string) error {
	if len(rawID) != rawIDLength {
		return ErrInvalidID
	}
	for _, c := range rawID {
		if c < '0' || c > '9' {
			return ErrInvalidID
		}
	}
	return nil
}

// truncate shortens a selector for logging. Full selectors stay out
// of logs so log access alone cannot be used to correlate lookups.
func truncate(selector string) string {
	if len(selector) > 12 {
		return selector[:12]
	}
	return selector
}
