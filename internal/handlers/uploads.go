package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"messenger/internal/media"
)

// UploadHandler accepts media files for later use in messages.
type UploadHandler struct {
	store  *media.Store
	logger *zap.Logger
}

func NewUploadHandler(store *media.Store, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{store: store, logger: logger}
}

// multipartOverhead leaves room for form boundaries around the file part.
const multipartOverhead = 1 << 20

func (h *UploadHandler) Upload(c *gin.Context) {
	if h.store.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.store.MaxBytes+multipartOverhead)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": media.ErrFileTooLarge.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": media.ErrEmptyFile.Error()})
		return
	}

	stored, err := h.store.Save(header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, stored)
	case errors.Is(err, media.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	case errors.Is(err, media.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("store upload failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store file"})
	}
}
