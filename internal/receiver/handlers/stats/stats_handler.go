package stats

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openmined/backuprelay/internal/receiver/archive"
	"github.com/openmined/backuprelay/internal/receiver/handlers/api"
)

type StatsHandler struct {
	svc *archive.Service
}

func New(svc *archive.Service) *StatsHandler {
	return &StatsHandler{svc: svc}
}

// Stats handles GET /stats[?game_name=NAME]
func (h *StatsHandler) Stats(ctx *gin.Context) {
	var req StatsRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid query: %w", err))
		return
	}

	if req.GameName != "" {
		stats, err := h.svc.Stats(ctx.Request.Context(), req.GameName)
		if errors.Is(err, archive.ErrUnknownCollection) {
			api.AbortWithError(ctx, http.StatusNotFound, api.CodeUnknownCollection, fmt.Errorf("unknown game: %s", req.GameName))
			return
		} else if err != nil {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
			return
		}
		ctx.PureJSON(http.StatusOK, map[string]*CollectionStats{stats.Name: toResponse(stats)})
		return
	}

	all, err := h.svc.AllStats(ctx.Request.Context())
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	resp := make(map[string]*CollectionStats, len(all))
	for name, stats := range all {
		resp[name] = toResponse(stats)
	}
	ctx.PureJSON(http.StatusOK, resp)
}

func toResponse(s *archive.CollectionStats) *CollectionStats {
	out := &CollectionStats{
		Count:          s.Count,
		TotalSizeBytes: s.TotalSizeBytes,
		MaxSizeBytes:   s.MaxSizeBytes,
		Backend:        s.Backend,
		Location:       s.Location,
		DiskFreeBytes:  s.DiskFreeBytes,
		Backups:        make([]*BackupInfo, 0, len(s.Backups)),
	}
	for _, b := range s.Backups {
		out.Backups = append(out.Backups, &BackupInfo{
			FileName:   b.FileName,
			SizeBytes:  b.Size,
			ReceivedAt: b.ReceivedAt.Format(time.RFC3339Nano),
		})
	}
	return out
}
