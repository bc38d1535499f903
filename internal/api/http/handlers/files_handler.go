package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/helpdesk/internal/api/dto"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/blob"
	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/repository"
	apperrors "github.com/spec-kit/helpdesk/pkg/util"
)

// FilesHandler stages attachment blobs before ticket creation and serves
// stored attachments back.
type FilesHandler struct {
	blobs       blob.Store
	attachments repository.AttachmentRepository
	tickets     repository.TicketRepository
}

// NewFilesHandler constructs handler.
func NewFilesHandler(blobs blob.Store, attachments repository.AttachmentRepository, tickets repository.TicketRepository) *FilesHandler {
	return &FilesHandler{blobs: blobs, attachments: attachments, tickets: tickets}
}

// Upload POST /files. Accepts a multipart form with a single "file" part
// and returns the storage key to reference from ticket creation.
func (h *FilesHandler) Upload(c *fiber.Ctx) error {
	if _, ok := auth.PrincipalFromContext(c); !ok {
		return apperrors.NewUnauthorized("user required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return apperrors.NewValidationError("file part required", nil)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return apperrors.NewValidationError("unreadable file part", nil)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return apperrors.MapError(err)
	}

	key, err := h.blobs.Save(c.Context(), data, fileHeader.Filename)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return apperrors.NewValidationError("file exceeds size limit", map[string]any{
				"size_bytes": len(data),
			})
		}
		return apperrors.MapError(err)
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.UploadResponse{
		StorageKey: key,
		FileName:   fileHeader.Filename,
		MimeType:   fileHeader.Header.Get("Content-Type"),
		SizeBytes:  int64(len(data)),
	}})
}

// Download GET /files/:id streams a stored attachment. Customers may only
// fetch attachments on their own tickets.
func (h *FilesHandler) Download(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}

	attachment, err := h.attachments.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("attachment", nil)
		}
		return apperrors.MapError(err)
	}

	if principal.Role == domain.RoleCustomer {
		ticket, err := h.tickets.GetByID(c.Context(), attachment.TicketID)
		if err != nil {
			return apperrors.MapError(err)
		}
		if ticket.CustomerID != principal.ID {
			return apperrors.NewForbidden("access denied")
		}
	}

	data, err := h.blobs.Open(c.Context(), attachment.StorageKey)
	if err != nil {
		return apperrors.NewNotFound("attachment", nil)
	}

	c.Set("Content-Disposition", `attachment; filename="`+attachment.FileName+`"`)
	if attachment.MimeType != "" {
		c.Set("Content-Type", attachment.MimeType)
	}
	return c.Send(data)
}

// Delete DELETE /files/:id removes an attachment and its blob. Only agents
// and the original uploader may delete.
func (h *FilesHandler) Delete(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("user required")
	}

	attachment, err := h.attachments.GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("attachment", nil)
		}
		return apperrors.MapError(err)
	}
	if principal.Role == domain.RoleCustomer && attachment.UploadedBy != principal.ID {
		return apperrors.NewForbidden("access denied")
	}

	if err := h.attachments.Delete(c.Context(), attachment.ID); err != nil {
		return apperrors.MapError(err)
	}
	if err := h.blobs.Delete(c.Context(), attachment.StorageKey); err != nil {
		return apperrors.MapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}
