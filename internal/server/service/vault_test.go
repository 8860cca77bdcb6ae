package service

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"docvault/internal/server/database"
	"docvault/internal/server/identity"
	"docvault/internal/server/storage"
	"docvault/internal/server/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validID = "9001015009087"

var pdfBody = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

// --- in-memory fakes ---

type fakeIdentityRepo struct {
	mu      sync.Mutex
	records map[string]*database.Identity
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{records: make(map[string]*database.Identity)}
}

func (r *fakeIdentityRepo) Create(_ context.Context, ident *database.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[ident.Selector]; exists {
		return database.ErrIdentityExists
	}
	cp := *ident
	r.records[ident.Selector] = &cp
	return nil
}

func (r *fakeIdentityRepo) GetBySelector(_ context.Context, selector string) (*database.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.records[selector]
	if !ok {
		return nil, database.ErrIdentityNotFound
	}
	cp := *ident
	return &cp, nil
}

type fakeDocRepo struct {
	mu         sync.Mutex
	records    map[string]*database.Document
	failCreate bool
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{records: make(map[string]*database.Document)}
}

func (r *fakeDocRepo) Create(_ context.Context, doc *database.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return assert.AnError
	}
	cp := *doc
	r.records[doc.ID] = &cp
	return nil
}

func (r *fakeDocRepo) GetByID(_ context.Context, id string) (*database.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.records[id]
	if !ok {
		return nil, database.ErrDocumentNotFound
	}
	cp := *doc
	return &cp, nil
}

func (r *fakeDocRepo) ListByOwner(_ context.Context, owner string) ([]*database.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var docs []*database.Document
	for _, doc := range r.records {
		if doc.OwnerSelector == owner {
			cp := *doc
			docs = append(docs, &cp)
		}
	}
	return docs, nil
}

// --- test fixture ---

type fixture struct {
	svc      *VaultService
	docs     *fakeDocRepo
	storeDir string
}

func lightParams() identity.Argon2Params {
	return identity.Argon2Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLen:     16,
		KeyLen:      32,
	}
}

func newFixture(t *testing.T, downloadTTL time.Duration) *fixture {
	t.Helper()

	idStore, err := identity.NewStore(newFakeIdentityRepo(), []byte("selector-secret"), lightParams())
	require.NoError(t, err)
	sessions, err := token.NewSessionIssuer([]byte("session-secret"), 30*time.Minute)
	require.NoError(t, err)
	downloads, err := token.NewDownloadMinter([]byte("download-secret"), downloadTTL)
	require.NoError(t, err)

	dir := t.TempDir()
	store := storage.NewFileSystemStore(dir)
	require.NoError(t, store.EnsureDir())

	docs := newFakeDocRepo()
	svc, err := NewVaultService(
		idStore, sessions, downloads, docs, store,
		10*1024*1024, "application/pdf",
	)
	require.NoError(t, err)

	return &fixture{svc: svc, docs: docs, storeDir: dir}
}

func (f *fixture) registerAndUpload(t *testing.T, rawID, filename string) (selector string, doc *database.Document) {
	t.Helper()
	ctx := context.Background()

	sess, err := f.svc.Register(ctx, rawID, "Test Owner")
	require.NoError(t, err)
	selector, err = f.svc.ValidateSession(sess.AccessToken)
	require.NoError(t, err)

	doc, err = f.svc.Upload(ctx, selector, filename, "application/pdf",
		int64(len(pdfBody)), bytes.NewReader(pdfBody))
	require.NoError(t, err)
	return selector, doc
}

// --- tests ---

func TestRegisterAndLogin(t *testing.T) {
	f := newFixture(t, 3*time.Minute)
	ctx := context.Background()

	sess, err := f.svc.Register(ctx, validID, "Thandi M.")
	require.NoError(t, err)
	assert.Equal(t, "bearer", sess.TokenType)

	selector, err := f.svc.ValidateSession(sess.AccessToken)
	require.NoError(t, err)
	assert.NotEmpty(t, selector)

	// Second registration conflicts distinctly from an auth failure.
	_, err = f.svc.Register(ctx, validID, "Thandi M.")
	assert.ErrorIs(t, err, identity.ErrAlreadyRegistered)

	// Login with the right ID works, wrong ID collapses to unauthorized.
	_, err = f.svc.Login(ctx, validID)
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "9001015009088")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestValidateSession_Garbage(t *testing.T) {
	f := newFixture(t, 3*time.Minute)

	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := f.svc.ValidateSession(tok)
		assert.ErrorIs(t, err, ErrUnauthorized, "token %q", tok)
	}
}

func TestUpload(t *testing.T) {
	ctx := context.Background()

	t.Run("stores document with synthesized name", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, doc := f.registerAndUpload(t, validID, "statement.pdf")

		assert.Equal(t, "statement.pdf", doc.OriginalFilename)
		assert.NotContains(t, doc.StorageName, "statement")
		assert.NotContains(t, doc.StorageName, "/")
		assert.Equal(t, selector, doc.OwnerSelector)

		docs, err := f.svc.List(ctx, selector)
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "statement.pdf", docs[0].OriginalFilename)
	})

	t.Run("strips directory components from display name", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		_, doc := f.registerAndUpload(t, validID, "../../etc/evil.pdf")
		assert.Equal(t, "evil.pdf", doc.OriginalFilename)
	})

	t.Run("rejects wrong content type", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, _ := f.registerAndUpload(t, validID, "statement.pdf")

		_, err := f.svc.Upload(ctx, selector, "notes.pdf", "text/plain",
			int64(len(pdfBody)), bytes.NewReader(pdfBody))
		assert.ErrorIs(t, err, ErrUnsupportedFileType)
	})

	t.Run("rejects wrong extension", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, _ := f.registerAndUpload(t, validID, "statement.pdf")

		_, err := f.svc.Upload(ctx, selector, "notes.txt", "application/pdf",
			int64(len(pdfBody)), bytes.NewReader(pdfBody))
		assert.ErrorIs(t, err, ErrUnsupportedFileType)
	})

	t.Run("rejects declared size over the ceiling before reading", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, _ := f.registerAndUpload(t, validID, "statement.pdf")

		_, err := f.svc.Upload(ctx, selector, "big.pdf", "application/pdf",
			11*1024*1024, bytes.NewReader(pdfBody))
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("rejects understated size by reading past the ceiling", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, _ := f.registerAndUpload(t, validID, "statement.pdf")

		big := append([]byte("%PDF-"), bytes.Repeat([]byte("a"), 10*1024*1024)...)
		_, err := f.svc.Upload(ctx, selector, "big.pdf", "application/pdf",
			100, bytes.NewReader(big))
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("rejects non-PDF body", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, _ := f.registerAndUpload(t, validID, "statement.pdf")

		_, err := f.svc.Upload(ctx, selector, "fake.pdf", "application/pdf",
			4, bytes.NewReader([]byte("MZ\x90\x00")))
		assert.ErrorIs(t, err, ErrUnsupportedFileType)
	})

	t.Run("removes stored file when the record insert fails", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, _ := f.registerAndUpload(t, validID, "statement.pdf")

		f.docs.mu.Lock()
		f.docs.failCreate = true
		f.docs.mu.Unlock()

		entriesBefore, err := os.ReadDir(f.storeDir)
		require.NoError(t, err)

		_, err = f.svc.Upload(ctx, selector, "doomed.pdf", "application/pdf",
			int64(len(pdfBody)), bytes.NewReader(pdfBody))
		require.Error(t, err)

		entriesAfter, err := os.ReadDir(f.storeDir)
		require.NoError(t, err)
		assert.Len(t, entriesAfter, len(entriesBefore), "failed upload must not leave a file behind")
	})
}

func TestIssueDownloadToken(t *testing.T) {
	ctx := context.Background()

	t.Run("owner receives a token with the configured TTL", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, doc := f.registerAndUpload(t, validID, "statement.pdf")

		grant, err := f.svc.IssueDownloadToken(ctx, selector, doc.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, grant.Token)
		assert.InDelta(t, 180, grant.ExpiresIn, 2)
	})

	t.Run("non-owner is unauthorized", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		_, doc := f.registerAndUpload(t, validID, "statement.pdf")

		otherSess, err := f.svc.Register(ctx, "8001015009086", "Other")
		require.NoError(t, err)
		otherSelector, err := f.svc.ValidateSession(otherSess.AccessToken)
		require.NoError(t, err)

		_, err = f.svc.IssueDownloadToken(ctx, otherSelector, doc.ID)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("unknown document is unauthorized, not not-found", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, _ := f.registerAndUpload(t, validID, "statement.pdf")

		_, err := f.svc.IssueDownloadToken(ctx, selector, "4dc8c8e1-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestDownload(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, doc := f.registerAndUpload(t, validID, "statement.pdf")

		grant, err := f.svc.IssueDownloadToken(ctx, selector, doc.ID)
		require.NoError(t, err)

		path, filename, err := f.svc.Download(ctx, grant.Token)
		require.NoError(t, err)
		assert.Equal(t, "statement.pdf", filename)

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, pdfBody, content)

		// Replay within TTL succeeds by design.
		_, _, err = f.svc.Download(ctx, grant.Token)
		require.NoError(t, err)
	})

	t.Run("tampered token is unauthorized", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, doc := f.registerAndUpload(t, validID, "statement.pdf")

		grant, err := f.svc.IssueDownloadToken(ctx, selector, doc.ID)
		require.NoError(t, err)

		// Flip the last signature character.
		repl := byte('0')
		if grant.Token[len(grant.Token)-1] == '0' {
			repl = '1'
		}
		tampered := grant.Token[:len(grant.Token)-1] + string(repl)
		_, _, err = f.svc.Download(ctx, tampered)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("expired token is unauthorized", func(t *testing.T) {
		// TTL far enough in the past to clear the grace window.
		f := newFixture(t, -time.Minute)
		selector, doc := f.registerAndUpload(t, validID, "statement.pdf")

		grant, err := f.svc.IssueDownloadToken(ctx, selector, doc.ID)
		require.NoError(t, err)

		_, _, err = f.svc.Download(ctx, grant.Token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("token for a deleted record is unauthorized", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, doc := f.registerAndUpload(t, validID, "statement.pdf")

		grant, err := f.svc.IssueDownloadToken(ctx, selector, doc.ID)
		require.NoError(t, err)

		f.docs.mu.Lock()
		delete(f.docs.records, doc.ID)
		f.docs.mu.Unlock()

		_, _, err = f.svc.Download(ctx, grant.Token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("token and record must agree on the owner", func(t *testing.T) {
		f := newFixture(t, 3*time.Minute)
		selector, doc := f.registerAndUpload(t, validID, "statement.pdf")

		grant, err := f.svc.IssueDownloadToken(ctx, selector, doc.ID)
		require.NoError(t, err)

		// Simulate a tampered-at-rest record: the signature still
		// verifies, but the persisted owner no longer matches.
		f.docs.mu.Lock()
		f.docs.records[doc.ID].OwnerSelector = "someone-else"
		f.docs.mu.Unlock()

		_, _, err = f.svc.Download(ctx, grant.Token)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestNewVaultService_UnknownContentType(t *testing.T) {
	idStore, err := identity.NewStore(newFakeIdentityRepo(), []byte("s"), lightParams())
	require.NoError(t, err)
	sessions, err := token.NewSessionIssuer([]byte("a"), time.Minute)
	require.NoError(t, err)
	downloads, err := token.NewDownloadMinter([]byte("b"), time.Minute)
	require.NoError(t, err)

	_, err = NewVaultService(idStore, sessions, downloads, newFakeDocRepo(),
		storage.NewFileSystemStore(t.TempDir()), 1024, "application/zip")
	assert.Error(t, err)
}
