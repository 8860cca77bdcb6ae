package database

import "time"

// Identity is a registered user, addressable only by selector.
// The selector is a keyed, deterministic derivation of the raw ID
// number; the raw value itself is never stored.
type Identity struct {
	Selector    string
	SecretHash  string
	DisplayName string
	CreatedAt   time.Time
}

// Document is a stored file owned by exactly one identity.
// StorageName is server-generated and carries no client input.
type Document struct {
	ID               string
	OwnerSelector    string
	OriginalFilename string
	StorageName      string
	UploadedAt       time.Time
}
