package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempinbox/backend/internal/middleware"
	"tempinbox/backend/internal/service"
)

// runSweep 手动执行一次清理，kind 为 all 时按顺序执行全部任务
func (h *Handler) runSweep(c *gin.Context) {
	kind := c.Param("kind")
	subject := c.GetString(middleware.ContextAdminSubject)

	if kind == "all" {
		report := h.retention.RunAll(c.Request.Context())
		h.log.Info("manual sweep finished",
			zap.String("kind", kind),
			zap.String("admin", subject),
			zap.Int("deleted", report.Total()),
		)
		Success(c, http.StatusOK, gin.H{"report": report})
		return
	}

	parsed, err := service.ParseSweepKind(kind)
	if err != nil {
		Fail(c, http.StatusBadRequest, MsgInvalidSweepKind)
		return
	}

	result, err := h.retention.Run(c.Request.Context(), parsed)
	if err != nil {
		respondError(c, h.log, err, "run sweep")
		return
	}
	h.log.Info("manual sweep finished",
		zap.String("kind", kind),
		zap.String("admin", subject),
		zap.Int("deleted", result.Deleted),
	)
	Success(c, http.StatusOK, gin.H{"result": result})
}
