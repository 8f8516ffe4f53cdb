package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/neighborly/backend/internal/posts"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorInvalidRequest = "invalid_request"
	codeInvalidRequest  = "server.submit.invalid_request"
	messageStoreFailure = "store failure"
	codeStoreFailure    = "server.store_failure"
)

type submissionPayload struct {
	PostID       string `json:"postId"`
	NeighborID   string `json:"neighborId"`
	Nickname     string `json:"nickname"`
	Neighborhood string `json:"neighborhood"`
	Offer        string `json:"offer"`
	Need         string `json:"need"`
	Content      string `json:"content"`
}

type submissionResponse struct {
	Success bool         `json:"success"`
	Post    *posts.Post  `json:"post,omitempty"`
	Reply   *posts.Reply `json:"reply,omitempty"`
}

func (h *httpHandler) handleSubmit(c *gin.Context) {
	var request submissionPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.Warn("malformed submission", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest, "code": codeInvalidRequest})
		return
	}

	neighborID := strings.TrimSpace(request.NeighborID)
	if neighborID == "" {
		neighborID = h.neighborIdentity(c).GetOrCreateNeighborID()
	}

	result, err := h.submissions.Submit(c.Request.Context(), posts.Submission{
		PostID:       request.PostID,
		NeighborID:   neighborID,
		Nickname:     request.Nickname,
		Neighborhood: request.Neighborhood,
		Offer:        request.Offer,
		Need:         request.Need,
		Content:      request.Content,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, submissionResponse{Success: true, Post: result.Post, Reply: result.Reply})
}

func (h *httpHandler) writeServiceError(c *gin.Context, err error) {
	var serviceErr *posts.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": messageStoreFailure, "code": codeStoreFailure})
		return
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, posts.ErrValidation):
		status = http.StatusBadRequest
		h.logger.Warn("submission rejected", zap.String("code", serviceErr.Code()), zap.String("reason", serviceErr.Message()))
	case errors.Is(err, posts.ErrNotFound):
		status = http.StatusNotFound
		h.logger.Warn("submission rejected", zap.String("code", serviceErr.Code()))
	default:
		h.logger.Error("submission failed", zap.String("code", serviceErr.Code()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": serviceErr.Message(), "code": serviceErr.Code()})
}
