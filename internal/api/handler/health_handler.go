package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// IndexStatus 索引状态
type IndexStatus interface {
	Ready() bool
	Built() bool
	Size() int
}

// HealthHandler 健康检查，不做鉴权
type HealthHandler struct {
	index IndexStatus
}

func NewHealthHandler(index IndexStatus) *HealthHandler {
	return &HealthHandler{index: index}
}

// HandleHealth GET /health
func (h *HealthHandler) HandleHealth(_ context.Context, c *app.RequestContext) {
	resp := utils.H{"status": "ok"}
	if h.index != nil {
		resp["embedder_ready"] = h.index.Ready()
		resp["index_built"] = h.index.Built()
		resp["indexed_profiles"] = h.index.Size()
	}
	c.JSON(consts.StatusOK, resp)
}
