package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agenttic/agenttic/pkg/config"
	"github.com/agenttic/agenttic/pkg/domain"
)

// ListConfigOverrides serves GET /api/config: the stored overrides
// layered over the file config.
func (h *Handler) ListConfigOverrides(c *gin.Context) {
	entries, err := h.meta.ListConfigs(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "overrides": entries})
}

// SetConfigOverride serves PUT /api/config: persist one override and
// apply it live when the key is hot-reloadable.
func (h *Handler) SetConfigOverride(c *gin.Context) {
	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Key) == "" || req.Value == "" {
		h.fail(c, fmt.Errorf("%w: key and value are required", domain.ErrInvalidInput))
		return
	}

	hot := config.IsHotReloadable(req.Key)
	if err := h.meta.SetConfig(c.Request.Context(), req.Key, req.Value, hot); err != nil {
		h.fail(c, err)
		return
	}

	message := "override stored; restart required to apply"
	if hot {
		if h.reload != nil {
			h.reload()
		}
		message = "override applied"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "hot_reload": hot, "message": message})
}
