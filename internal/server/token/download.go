package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DownloadGrant is the verified content of a download token.
type DownloadGrant struct {
	DocumentID    string
	OwnerSelector string
	ExpiresAt     time.Time
}

// DownloadMinter signs and verifies download tokens binding
// {document, owner, expiry}. The wire format is
//
//	documentID|ownerSelector|expiresAtUnix|hexSignature
//
// where the signature is HMAC-SHA256 over the first three fields.
// Document IDs are UUIDs and selectors are hex, so the pipe delimiter
// cannot appear inside a field and the layout round-trips exactly.
type DownloadMinter struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewDownloadMinter creates a DownloadMinter with the download
// signing secret, which must be distinct from the session secret.
func NewDownloadMinter(secret []byte, ttl time.Duration) (*DownloadMinter, error) {
	if len(secret) == 0 {
		return nil, errors.New("download secret is required")
	}
	return &DownloadMinter{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Mint produces a signed token for the given document and owner.
// Ownership must already have been checked by the caller: minting is
// the authorization point, verification is not.
func (m *DownloadMinter) Mint(documentID, ownerSelector string) (token string, expiresAt time.Time, err error) {
	if documentID == "" || ownerSelector == "" {
		return "", time.Time{}, errors.New("document ID and owner selector are required")
	}
	if strings.Contains(documentID, "|") || strings.Contains(ownerSelector, "|") {
		return "", time.Time{}, errors.New("token fields must not contain the delimiter")
	}
	expiresAt = m.now().Add(m.ttl)
	payload := fmt.Sprintf("%s|%s|%d", documentID, ownerSelector, expiresAt.Unix())
	return payload + "|" + m.sign(payload), expiresAt, nil
}

// Verify re-derives the MAC over the received payload bytes, compares
// in constant time, and checks expiry with a small grace window for
// clock skew. It performs no database lookup: the payload is
// self-describing, and matching it against the document record is the
// caller's job.
func (m *DownloadMinter) Verify(token string) (*DownloadGrant, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 4 {
		return nil, ErrMalformedToken
	}
	documentID, ownerSelector, expiryStr, signature := parts[0], parts[1], parts[2], parts[3]
	if documentID == "" || ownerSelector == "" {
		return nil, ErrMalformedToken
	}
	expiryUnix, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return nil, ErrMalformedToken
	}

	payload := documentID + "|" + ownerSelector + "|" + expiryStr
	want, err := hex.DecodeString(signature)
	if err != nil {
		return nil, ErrMalformedToken
	}
	got := m.mac(payload)
	// hmac.Equal is constant time; a plain byte comparison would leak
	// matching prefix length through timing.
	if !hmac.Equal(got, want) {
		return nil, ErrBadSignature
	}

	expiresAt := time.Unix(expiryUnix, 0)
	if m.now().After(expiresAt.Add(expiryGrace)) {
		return nil, ErrTokenExpired
	}

	return &DownloadGrant{
		DocumentID:    documentID,
		OwnerSelector: ownerSelector,
		ExpiresAt:     expiresAt,
	}, nil
}

func (m *DownloadMinter) sign(payload string) string {
	return hex.EncodeToString(m.mac(payload))
}

func (m *DownloadMinter) mac(payload string) []byte {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(payload))
	return h.Sum(nil)
}
