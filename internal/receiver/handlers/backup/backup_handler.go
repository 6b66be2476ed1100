package backup

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/backuprelay/internal/receiver/archive"
	"github.com/openmined/backuprelay/internal/receiver/handlers/api"
	"github.com/openmined/backuprelay/internal/receiver/middlewares"
)

type BackupHandler struct {
	svc *archive.Service
}

func New(svc *archive.Service) *BackupHandler {
	return &BackupHandler{svc: svc}
}

// Upload handles POST /backup. It answers 200 only after the archive is
// durable and retention for its collection has run.
func (h *BackupHandler) Upload(ctx *gin.Context) {
	var req UploadRequest
	if err := ctx.ShouldBind(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid form: %w", err))
		return
	}

	middlewares.Annotate(ctx,
		slog.String("game", req.GameName),
		slog.String("sender", ctx.GetHeader(HeaderSenderID)),
	)

	// reject before touching the payload so an unknown game leaves no trace
	if _, ok := h.svc.Registry().Lookup(req.GameName); !ok {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeUnknownCollection, fmt.Errorf("unknown game: %s", req.GameName))
		return
	}

	file, err := ctx.FormFile(FormFile)
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	if file.Size <= 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errors.New("invalid file: size is 0"))
		return
	}

	fd, err := file.Open()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	defer fd.Close()

	result, err := h.svc.Ingest(ctx.Request.Context(), &archive.IngestRequest{
		Collection: req.GameName,
		FileName:   file.Filename,
		SenderID:   ctx.GetHeader(HeaderSenderID),
	}, fd)
	if err != nil {
		status, code := errorStatus(err)
		api.AbortWithError(ctx, status, code, err)
		return
	}

	evicted := make([]string, 0, len(result.Evicted))
	for _, e := range result.Evicted {
		evicted = append(evicted, e.FileName)
	}

	ctx.PureJSON(http.StatusOK, &UploadResponse{
		Status:     "success",
		Message:    "backup received: " + result.Archive.FileName,
		GameName:   result.Archive.Collection,
		FileName:   result.Archive.FileName,
		Size:       result.Archive.Size,
		ReceivedAt: result.Archive.ReceivedAt.Format(time.RFC3339Nano),
		Evicted:    evicted,
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, archive.ErrUnknownCollection):
		return http.StatusBadRequest, api.CodeUnknownCollection
	case errors.Is(err, archive.ErrEmptyPayload), errors.Is(err, archive.ErrInvalidFileName):
		return http.StatusBadRequest, api.CodeInvalidRequest
	case errors.Is(err, archive.ErrStorage):
		return http.StatusInternalServerError, api.CodeStorageFailed
	default:
		return http.StatusInternalServerError, api.CodeInternalError
	}
}
