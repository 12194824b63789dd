package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"labdrop/internal/server/database"
	"labdrop/internal/server/service"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type fileIDsRequest struct {
	FileIDs []string `json:"file_ids"`
}

type createAdminRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type importRequest struct {
	UsersPath  string `json:"users_path"`
	GroupsPath string `json:"groups_path"`
}

func adminSummary(a *database.AdminUser) echo.Map {
	return echo.Map{
		"id":        a.ID,
		"username":  a.Username,
		"is_active": a.IsActive,
	}
}

// HandleLogin handles POST /api/admin/login.
// Sets the session cookie on success.
func (h *Handler) HandleLogin(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	session, err := h.svc.Sessions.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		MaxAge:   int(h.svc.Sessions.TTL() / time.Second),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"admin": echo.Map{
			"id":        session.AdminID,
			"username":  session.Username,
			"is_active": true,
		},
		"expires_at": session.ExpiresAt,
	})
}

// HandleLogout handles POST /api/admin/logout. It succeeds without a session.
func (h *Handler) HandleLogout(c echo.Context) error {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		if err := h.svc.Sessions.Logout(cookie.Value); err != nil {
			return mapServiceError(c, err)
		}
	}
	clearSessionCookie(c)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleMe handles GET /api/admin/me.
func (h *Handler) HandleMe(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"admin": adminSummary(currentAdmin(c))})
}

// HandleListUploads handles GET /api/admin/uploads.
// Returns every batch, newest first, with its files.
func (h *Handler) HandleListUploads(c echo.Context) error {
	batches, err := h.svc.Uploads.ListBatches()
	if err != nil {
		return mapServiceError(c, err)
	}

	var stored int64
	for _, b := range batches {
		for _, f := range b.Files {
			if !f.IsDeleted {
				stored += f.SizeBytes
			}
		}
	}

	return c.JSON(http.StatusOK, echo.Map{
		"uploads":            batches,
		"storage_used_bytes": stored,
		"storage_used_human": humanizeBytes(stored),
	})
}

// HandleDownload handles GET /api/admin/files/:id/download.
// Serves the file as an attachment under its effective filename.
func (h *Handler) HandleDownload(c echo.Context) error {
	path, filename, err := h.svc.Uploads.OpenFile(c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.Attachment(path, filename)
}

// HandleDownloadMany handles POST /api/admin/files/download-many.
func (h *Handler) HandleDownloadMany(c echo.Context) error {
	var req fileIDsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	downloads, err := h.svc.Uploads.ResolveDownloads(req.FileIDs)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"downloads": downloads})
}

// HandleArchive handles POST /api/admin/files/archive.
// Streams one zip holding the selected files.
func (h *Handler) HandleArchive(c echo.Context) error {
	var req fileIDsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	name := fmt.Sprintf("labdrop-%s.zip", time.Now().UTC().Format("20060102-150405"))
	w := &attachmentWriter{c: c, filename: name, contentType: "application/zip"}

	count, err := h.svc.Uploads.WriteArchive(c.Request().Context(), req.FileIDs, w)
	if err != nil {
		if !w.started {
			return mapServiceError(c, err)
		}
		// Headers are gone; the client sees a truncated zip.
		slog.Error("archive stream failed", "error", err)
		return nil
	}

	slog.Info("archive sent", "files", count, "admin", currentAdmin(c).Username)
	return nil
}

// attachmentWriter commits the response headers on the first write so that
// failures before any output can still be reported as JSON.
type attachmentWriter struct {
	c           echo.Context
	filename    string
	contentType string
	started     bool
}

func (w *attachmentWriter) Write(p []byte) (int, error) {
	if !w.started {
		res := w.c.Response()
		res.Header().Set(echo.HeaderContentType, w.contentType)
		res.Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", w.filename))
		res.WriteHeader(http.StatusOK)
		w.started = true
	}
	return w.c.Response().Write(p)
}

// HandleDeleteMany handles POST /api/admin/files/delete-many.
func (h *Handler) HandleDeleteMany(c echo.Context) error {
	var req fileIDsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	deleted, err := h.svc.Uploads.SoftDeleteFiles(c.Request().Context(), req.FileIDs)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"deleted_count": deleted})
}

// HandleCopyString handles POST /api/admin/copy-string.
func (h *Handler) HandleCopyString(c echo.Context) error {
	var req fileIDsRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	text, err := h.svc.Uploads.CopyString(req.FileIDs, currentAdmin(c).Username)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"text": text})
}

// HandleGetSettings handles GET /api/admin/settings.
func (h *Handler) HandleGetSettings(c echo.Context) error {
	settings, err := h.svc.Settings.Get()
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"settings": settings})
}

// HandleUpdateSettings handles PUT /api/admin/settings.
func (h *Handler) HandleUpdateSettings(c echo.Context) error {
	var req service.SettingsUpdate
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	settings, err := h.svc.Settings.Update(req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"settings": settings})
}

// HandleListAdmins handles GET /api/admin/users.
func (h *Handler) HandleListAdmins(c echo.Context) error {
	admins, err := h.svc.Admins.List()
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"admins": admins})
}

// HandleCreateAdmin handles POST /api/admin/users.
func (h *Handler) HandleCreateAdmin(c echo.Context) error {
	var req createAdminRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	admin, err := h.svc.Admins.Create(req.Username, req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"admin": admin})
}

// HandleUpdateAdmin handles PATCH /api/admin/users/:id.
func (h *Handler) HandleUpdateAdmin(c echo.Context) error {
	var req service.AdminUpdate
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	admin, err := h.svc.Admins.Update(currentAdmin(c).ID, c.Param("id"), req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"admin": admin})
}

// HandleDeleteAdmin handles DELETE /api/admin/users/:id.
func (h *Handler) HandleDeleteAdmin(c echo.Context) error {
	if err := h.svc.Admins.Delete(currentAdmin(c).ID, c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleAdminListUploaders handles GET /api/admin/uploaders.
// Unlike the public list it includes disabled uploaders.
func (h *Handler) HandleAdminListUploaders(c echo.Context) error {
	uploaders, err := h.svc.Uploaders.ListAll()
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"uploaders": uploaders})
}

// HandleUpdateUploader handles PATCH /api/admin/uploaders/:id.
func (h *Handler) HandleUpdateUploader(c echo.Context) error {
	var req service.UploaderUpdate
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	uploader, err := h.svc.Uploaders.Update(c.Param("id"), req)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"uploader": uploader})
}

// HandleDisableUploader handles DELETE /api/admin/uploaders/:id.
// Uploaders are disabled, never removed, so batch history stays intact.
func (h *Handler) HandleDisableUploader(c echo.Context) error {
	if err := h.svc.Uploaders.Disable(c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// HandleImportLegacy handles POST /api/admin/migrate/import-legacy.
// Empty paths fall back to users.json and groups.json in the working directory.
func (h *Handler) HandleImportLegacy(c echo.Context) error {
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.UsersPath == "" {
		req.UsersPath = h.legacyUsers
	}
	if req.GroupsPath == "" {
		req.GroupsPath = h.legacyGroups
	}

	result, err := h.svc.Importer.Import(c.Request().Context(), req.UsersPath, req.GroupsPath)
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
