package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"docvault/internal/server/database"
	"docvault/internal/server/identity"
	"docvault/internal/server/storage"
	"docvault/internal/server/token"

	"github.com/google/uuid"
)

// Sentinel errors for the service layer.
var (
	// ErrUnauthorized is the single auth-class failure. Bad
	// credentials, bad/expired/forged tokens, unknown documents and
	// not-owner requests all collapse to it before leaving this
	// package.
	ErrUnauthorized        = errors.New("unauthorized")
	ErrFileTooLarge        = errors.New("file exceeds maximum allowed size")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// errNotOwner never leaves the package; collapseAuth folds it into
// ErrUnauthorized.
var errNotOwner = errors.New("requester does not own document")

// pdfMagic is the required prefix of every uploaded document body.
var pdfMagic = []byte("%PDF-")

// allowedExtensions maps an accepted content type to the extension
// synthesized storage names carry.
var allowedExtensions = map[string]string{
	"application/pdf": ".pdf",
}

// DocumentRepository is the persistence surface the service needs for
// documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *database.Document) error
	GetByID(ctx context.Context, id string) (*database.Document, error)
	ListByOwner(ctx context.Context, ownerSelector string) ([]*database.Document, error)
}

// SessionToken is returned by Register and Login.
type SessionToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// DownloadGrantOut is returned by IssueDownloadToken.
type DownloadGrantOut struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// VaultService contains the business logic tying identities, tokens,
// document records and file storage together.
type VaultService struct {
	identities *identity.Store
	sessions   *token.SessionIssuer
	downloads  *token.DownloadMinter
	docs       DocumentRepository
	store      storage.Store

	maxUploadBytes int64
	allowedType    string
	allowedExt     string
}

// NewVaultService creates a new vault service. The allowed content
// type must be one the service knows an extension for.
func NewVaultService(
	identities *identity.Store,
	sessions *token.SessionIssuer,
	downloads *token.DownloadMinter,
	docs DocumentRepository,
	store storage.Store,
	maxUploadBytes int64,
	allowedType string,
) (*VaultService, error) {
	ext, ok := allowedExtensions[allowedType]
	if !ok {
		return nil, fmt.Errorf("no known file extension for content type %q", allowedType)
	}
	return &VaultService{
		identities:     identities,
		sessions:       sessions,
		downloads:      downloads,
		docs:           docs,
		store:          store,
		maxUploadBytes: maxUploadBytes,
		allowedType:    allowedType,
		allowedExt:     ext,
	}, nil
}

// Register creates an identity and logs it straight in.
// A duplicate registration surfaces as identity.ErrAlreadyRegistered,
// deliberately distinct from ErrUnauthorized so a legitimate user
// knows to log in instead.
func (s *VaultService) Register(ctx context.Context, rawID, displayName string) (*SessionToken, error) {
	ident, err := s.identities.Register(ctx, rawID, displayName)
	if err != nil {
		return nil, err
	}
	slog.Info("identity registered", "selector", shortSel(ident.Selector))
	return s.issueSession(ident.Selector)
}

// Login verifies the raw ID and issues a session credential.
func (s *VaultService) Login(ctx context.Context, rawID string) (*SessionToken, error) {
	ident, err := s.identities.Verify(ctx, rawID)
	if err != nil {
		return nil, s.collapseAuth("login", err)
	}
	return s.issueSession(ident.Selector)
}

// ValidateSession checks a session credential and returns the
// selector it asserts.
func (s *VaultService) ValidateSession(tokenString string) (string, error) {
	selector, err := s.sessions.Validate(tokenString)
	if err != nil {
		return "", s.collapseAuth("session", err)
	}
	return selector, nil
}

// Upload validates and stores a document for the given owner.
// Validation happens before any byte is written: declared content
// type and extension against the allow-list, size against the
// ceiling, then the PDF magic bytes of the body itself.
func (s *VaultService) Upload(ctx context.Context, ownerSelector, filename, contentType string, size int64, data io.Reader) (*database.Document, error) {
	if size > s.maxUploadBytes {
		return nil, ErrFileTooLarge
	}
	if contentType != s.allowedType {
		return nil, ErrUnsupportedFileType
	}
	if !strings.EqualFold(filepath.Ext(filename), s.allowedExt) {
		return nil, ErrUnsupportedFileType
	}

	// The declared size is client-controlled; read at most one byte
	// past the ceiling to catch understated sizes.
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(data, s.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload data: %w", err)
	}
	if n > s.maxUploadBytes {
		return nil, ErrFileTooLarge
	}
	if !bytes.HasPrefix(buf.Bytes(), pdfMagic) {
		return nil, ErrUnsupportedFileType
	}

	storageName := storage.NewStorageName(ownerSelector, s.allowedExt)
	if _, err := s.store.Save(storageName, &buf); err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	doc := &database.Document{
		ID:               uuid.NewString(),
		OwnerSelector:    ownerSelector,
		OriginalFilename: sanitizeFilename(filename),
		StorageName:      storageName,
		UploadedAt:       time.Now().UTC(),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		// Roll back the stored file; anything missed here is caught
		// by the orphan sweeper.
		if delErr := s.store.Delete(storageName); delErr != nil {
			slog.Error("failed to roll back stored file", "storage_name", storageName, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	slog.Info("document uploaded",
		"document_id", doc.ID,
		"owner", shortSel(ownerSelector),
		"size", n,
	)
	return doc, nil
}

// List returns the caller's documents.
func (s *VaultService) List(ctx context.Context, ownerSelector string) ([]*database.Document, error) {
	return s.docs.ListByOwner(ctx, ownerSelector)
}

// IssueDownloadToken mints a short-lived download token for a
// document the requester owns. Ownership is enforced here, at mint
// time; verification later is signature-and-expiry only.
func (s *VaultService) IssueDownloadToken(ctx context.Context, requesterSelector, documentID string) (*DownloadGrantOut, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, s.collapseAuth("mint", err)
	}
	if doc.OwnerSelector != requesterSelector {
		return nil, s.collapseAuth("mint", fmt.Errorf("%w: %s", errNotOwner, documentID))
	}

	tok, expiresAt, err := s.downloads.Mint(doc.ID, doc.OwnerSelector)
	if err != nil {
		return nil, err
	}
	return &DownloadGrantOut{
		Token:     tok,
		ExpiresIn: int(time.Until(expiresAt).Round(time.Second).Seconds()),
	}, nil
}

// Download verifies a download token and returns the on-disk path and
// original filename of the document. The verified payload must agree
// with the persisted record, not just carry a valid signature.
func (s *VaultService) Download(ctx context.Context, tokenString string) (filePath, filename string, err error) {
	grant, err := s.downloads.Verify(tokenString)
	if err != nil {
		return "", "", s.collapseAuth("download", err)
	}

	doc, err := s.docs.GetByID(ctx, grant.DocumentID)
	if err != nil {
		return "", "", s.collapseAuth("download", err)
	}
	if doc.OwnerSelector != grant.OwnerSelector {
		return "", "", s.collapseAuth("download", fmt.Errorf("%w: token/record owner mismatch for %s", errNotOwner, doc.ID))
	}

	path, err := s.store.Resolve(doc.StorageName)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve stored file: %w", err)
	}
	return path, doc.OriginalFilename, nil
}

func (s *VaultService) issueSession(selector string) (*SessionToken, error) {
	tok, err := s.sessions.Issue(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	return &SessionToken{AccessToken: tok, TokenType: "bearer"}, nil
}

// collapseAuth is the single boundary that folds every auth-class
// failure into ErrUnauthorized. The internal cause is logged here and
// nowhere else; infrastructure errors pass through unchanged.
func (s *VaultService) collapseAuth(op string, err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrBadSignature),
		errors.Is(err, token.ErrMalformedToken),
		errors.Is(err, database.ErrDocumentNotFound),
		errors.Is(err, database.ErrIdentityNotFound),
		errors.Is(err, errNotOwner):
		slog.Debug("auth failure", "op", op, "cause", err)
		return ErrUnauthorized
	}
	return err
}

// shortSel truncates a selector for logging; full selectors stay out
// of logs.
func shortSel(selector string) string {
	if len(selector) > 12 {
		return selector[:12]
	}
	return selector
}

// sanitizeFilename strips directory components from the display
// filename and limits its length. It is never used for on-disk
// addressing, only for the stored display name and the
// Content-Disposition header.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}
	if name == "" || name == "." || name == "/" {
		name = "document.pdf"
	}
	return name
}
