package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/feed"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidLimit = "server.feed.invalid_limit"
	codeInvalidType  = "server.feed.invalid_type"
	codeLoadFailed   = "server.feed.load_failed"
)

func (h *httpHandler) handleFeed(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer", "code": codeInvalidLimit})
			return
		}
		limit = parsed
	}
	filterType, err := feed.ParseFilterType(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be one of all, offer, need", "code": codeInvalidType})
		return
	}
	criteria := feed.Criteria{
		SearchText:   c.Query("q"),
		Neighborhood: c.Query("neighborhood"),
		Type:         filterType,
	}

	loaded, err := h.loadFeed(c, limit)
	if err != nil {
		h.logger.Error("feed load failed", zap.Int("limit", limit), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageStoreFailure, "code": codeLoadFailed})
		return
	}

	c.JSON(http.StatusOK, loaded.Filter(criteria))
}

func (h *httpHandler) loadFeed(c *gin.Context, limit int) (feed.Feed, error) {
	if limit == 0 && h.snapshots != nil {
		snapshot, err := h.snapshots.Snapshot(c.Request.Context())
		if err == nil {
			return snapshot, nil
		}
		if c.Request.Context().Err() != nil {
			return feed.Feed{}, err
		}
		h.logger.Warn("shared feed unavailable, loading directly", zap.Error(err))
	}
	return h.loader.LoadFeed(c.Request.Context(), limit)
}
