package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// MediaHandler serves question media uploads.
type MediaHandler struct {
	mediaService   *service.MediaService
	maxUploadBytes int64
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(mediaService *service.MediaService, maxUploadBytes int64) *MediaHandler {
	return &MediaHandler{mediaService: mediaService, maxUploadBytes: maxUploadBytes}
}

// UploadMedia godoc
// POST /api/v1/admin/media/upload
// Stores an image for use in question prompts or image options and returns
// its public URL.
func (h *MediaHandler) UploadMedia(c *gin.Context) {
	// Leave room for the multipart envelope around the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	url, err := h.mediaService.SaveUpload(file, header)
	if err != nil {
		failService(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"url":  url,
		"name": header.Filename,
		"size": header.Size,
	})
}
