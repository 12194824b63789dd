package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"labdrop/internal/server/service"

	"github.com/labstack/echo/v4"
)

// Services bundles the service layer the handlers depend on.
type Services struct {
	Uploads   *service.UploadService
	Uploaders *service.UploaderService
	Sessions  *service.SessionService
	Admins    *service.AdminService
	Settings  *service.SettingsService
	Importer  *service.Importer
}

// Handler contains the HTTP handlers for the labdrop API.
type Handler struct {
	svc          Services
	cookieSecure bool
	legacyUsers  string
	legacyGroups string
}

// NewHandler creates a new handler with the given service dependencies.
func NewHandler(svc Services, cookieSecure bool) *Handler {
	return &Handler{
		svc:          svc,
		cookieSecure: cookieSecure,
		legacyUsers:  "users.json",
		legacyGroups: "groups.json",
	}
}

// HandleHealth handles GET /api/health.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}

// HandleListUploaders handles GET /api/uploaders.
// Returns the uploaders that may currently submit batches.
func (h *Handler) HandleListUploaders(c echo.Context) error {
	uploaders, err := h.svc.Uploaders.ListActive()
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"uploaders": uploaders})
}

type createUploaderRequest struct {
	DisplayName string   `json:"display_name"`
	Grade       *int     `json:"grade"`
	ExtraGroups []string `json:"extra_groups"`
}

// HandleCreateUploader handles POST /api/uploaders.
// Returns the existing uploader with that name or registers a new one.
func (h *Handler) HandleCreateUploader(c echo.Context) error {
	var req createUploaderRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	uploader, err := h.svc.Uploaders.Resolve(req.DisplayName, req.Grade, req.ExtraGroups)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"uploader": uploader})
}

// HandleCreateBatch handles POST /api/upload-batches.
// Accepts a multipart form with one description and one version per file.
func (h *Handler) HandleCreateBatch(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "expected a multipart form")
	}
	defer form.RemoveAll()

	headers := formFiles(form, "files")
	descriptions := formValues(form, "descriptions")
	versions := formValues(form, "versions")
	if len(headers) == 0 {
		return badRequest(c, "at least one file is required")
	}
	if len(descriptions) != len(headers) || len(versions) != len(headers) {
		return badRequest(c, "each file must have a description and a version")
	}

	var grade *int
	if raw := strings.TrimSpace(c.FormValue("uploader_grade")); raw != "" {
		g, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "uploader_grade must be a number")
		}
		grade = &g
	}

	files := make([]service.FileUpload, 0, len(headers))
	for i, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{
				"error": "failed to read uploaded file",
			})
		}
		defer src.Close()

		files = append(files, service.FileUpload{
			Filename:    fh.Filename,
			Description: descriptions[i],
			Version:     versions[i],
			MimeType:    fh.Header.Get("Content-Type"),
			Content:     src,
		})
	}

	batch, err := h.svc.Uploads.CreateBatch(c.Request().Context(), service.BatchRequest{
		UploaderName:   c.FormValue("uploader_name"),
		UploaderGrade:  grade,
		UploadPassword: c.FormValue("upload_password"),
		ClientIP:       c.RealIP(),
		Files:          files,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{"batch": batch})
}

// formFiles returns the files sent under name or name[].
func formFiles(form *multipart.Form, name string) []*multipart.FileHeader {
	if files := form.File[name]; len(files) > 0 {
		return files
	}
	return form.File[name+"[]"]
}

// formValues returns the values sent under name or name[].
func formValues(form *multipart.Form, name string) []string {
	if values := form.Value[name]; len(values) > 0 {
		return values
	}
	return form.Value[name+"[]"]
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	var importErr *service.ImportError
	switch {
	case errors.Is(err, service.ErrValidation):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.As(err, &importErr) && importErr.Kind == service.ParseFailure:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrAuth):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials or session"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrConflict):
		slog.Error("stored collection unreadable", "path", c.Path(), "error", err)
		return c.JSON(http.StatusConflict, echo.Map{"error": "stored data is unreadable; an operator must repair it"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "request cancelled"})
	default:
		slog.Error("request failed", "path", c.Path(), "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// humanizeBytes formats a byte count into a human-readable string.
func humanizeBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
