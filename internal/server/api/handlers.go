package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"docvault/internal/server/database"
	"docvault/internal/server/identity"
	"docvault/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Handler contains the HTTP handlers for the vault API.
type Handler struct {
	svc *service.VaultService
	db  *database.DB
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.VaultService, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

type registerRequest struct {
	Name     string `json:"name"`
	IDNumber string `json:"id_number"`
}

// documentOut is the client-visible view of a document record.
// Selectors and storage names stay server-side.
type documentOut struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

func toDocumentOut(doc *database.Document) documentOut {
	return documentOut{
		ID:         doc.ID,
		Filename:   doc.OriginalFilename,
		UploadedAt: doc.UploadedAt,
	}
}

// HandleRegister handles POST /api/register.
// Creates an identity from {name, id_number} and returns a session token.
func (h *Handler) HandleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	tok, err := h.svc.Register(c.Request().Context(), req.IDNumber, req.Name)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, tok)
}

// HandleLogin handles POST /api/login.
// The form's username field carries the 13-digit ID number.
func (h *Handler) HandleLogin(c echo.Context) error {
	rawID := c.FormValue("username")
	if rawID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "username field is required"})
	}

	tok, err := h.svc.Login(c.Request().Context(), rawID)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, tok)
}

// HandleUpload handles POST /api/documents.
// Accepts a multipart form with a "file" field; requires a session.
func (h *Handler) HandleUpload(c echo.Context) error {
	selector := sessionSelector(c)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	doc, err := h.svc.Upload(
		c.Request().Context(),
		selector,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		fileHeader.Size,
		src,
	)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, toDocumentOut(doc))
}

// HandleList handles GET /api/documents.
func (h *Handler) HandleList(c echo.Context) error {
	docs, err := h.svc.List(c.Request().Context(), sessionSelector(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	out := make([]documentOut, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDocumentOut(doc))
	}
	return c.JSON(http.StatusOK, out)
}

// HandleDownloadToken handles POST /api/documents/:id/token.
// Mints a short-lived download token for a document the caller owns.
func (h *Handler) HandleDownloadToken(c echo.Context) error {
	grant, err := h.svc.IssueDownloadToken(c.Request().Context(), sessionSelector(c), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, grant)
}

// HandleDownload handles GET /api/download?token=...
// Streams the document if the token verifies. No session required:
// the token is the credential.
func (h *Handler) HandleDownload(c echo.Context) error {
	tok := c.QueryParam("token")
	if tok == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token is required"})
	}

	filePath, filename, err := h.svc.Download(c.Request().Context(), tok)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.Attachment(filePath, filename)
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// mapServiceError translates service-layer errors into HTTP
// responses. Auth failures share one body regardless of cause;
// validation failures get a user-correctable message; nothing ever
// carries internal diagnostics.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired credentials"})
	case errors.Is(err, identity.ErrAlreadyRegistered):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already registered, log in instead"})
	case errors.Is(err, identity.ErrInvalidID):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id number must be exactly 13 digits"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"error": "file exceeds maximum allowed size"})
	case errors.Is(err, service.ErrUnsupportedFileType):
		return c.JSON(http.StatusUnsupportedMediaType, echo.Map{"error": "only PDF documents are accepted"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}
