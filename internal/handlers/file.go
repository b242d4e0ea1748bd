package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/middleware"
	"github.com/yungbote/docstream-backend/internal/repos"
	"github.com/yungbote/docstream-backend/internal/services"
)

type FileHandler struct {
	log         *logger.Logger
	pipeline    services.PipelineService
	fileService services.FileService
	maxBytes    int64
}

func NewFileHandler(log *logger.Logger, pipeline services.PipelineService, fileService services.FileService, maxBytes int64) *FileHandler {
	return &FileHandler{
		log:         log.With("handler", "FileHandler"),
		pipeline:    pipeline,
		fileService: fileService,
		maxBytes:    maxBytes,
	}
}

type uploadResponse struct {
	RecordID    uuid.UUID `json:"record_id"`
	FinalStatus string    `json:"final_status"`
	Failure     string    `json:"failure,omitempty"`
	Stage       string    `json:"stage,omitempty"`
}

// POST /api/files
// Accepts one multipart file and runs the processing pipeline to a
// terminal state before responding.
func (h *FileHandler) Upload(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_upload", fmt.Errorf("missing file field: %w", err))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_upload", err)
		return
	}
	defer f.Close()

	// read one byte past the cap so the pipeline's size validation fires
	// instead of a silent truncation
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_upload", err)
		return
	}

	result, err := h.pipeline.Run(c.Request.Context(), services.RunInput{
		Data:         data,
		OriginalName: fileHeader.Filename,
		OwnerID:      ownerID,
		ContentType:  fileHeader.Header.Get("Content-Type"),
	})
	if err != nil {
		switch services.FailureKindOf(err) {
		case services.FailureValidation:
			RespondError(c, http.StatusBadRequest, "validation_failed", err)
		case services.FailureDuplicate:
			RespondError(c, http.StatusConflict, "duplicate_content", err)
		case services.FailureExtraction:
			RespondError(c, http.StatusUnprocessableEntity, "extraction_failed", err)
		default:
			h.log.Error("pipeline run failed", "error", err, "owner_id", ownerID)
			RespondError(c, http.StatusInternalServerError, "pipeline_failed", err)
		}
		return
	}

	resp := uploadResponse{
		RecordID:    result.RecordID,
		FinalStatus: result.FinalStatus,
	}
	if result.Failure != nil {
		resp.Failure = result.Failure.Error()
		resp.Stage = result.Failure.Stage
	}
	RespondOK(c, resp)
}

// GET /api/files?status=
func (h *FileHandler) List(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}

	records, err := h.fileService.List(c.Request.Context(), ownerID, c.Query("status"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "list_failed", err)
		return
	}
	RespondOK(c, gin.H{"records": records})
}

// GET /api/files/:id
func (h *FileHandler) Get(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}

	rec, err := h.fileService.Get(c.Request.Context(), ownerID, id)
	if err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "get_failed", err)
		return
	}
	RespondOK(c, gin.H{"record": rec})
}

// DELETE /api/files/:id
func (h *FileHandler) Delete(c *gin.Context) {
	ownerID, ok := middleware.OwnerID(c)
	if !ok {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return
	}

	if err := h.fileService.Remove(c.Request.Context(), ownerID, id); err != nil {
		if errors.Is(err, repos.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	RespondOK(c, gin.H{"deleted": id})
}
