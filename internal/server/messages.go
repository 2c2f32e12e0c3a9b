package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	messagedomain "github.com/smallbiznis/comms/internal/message/domain"
)

type createMessageRequest struct {
	Content         string   `json:"content"`
	Attachments     []string `json:"attachments"`
	ParentMessageID string   `json:"parent_message_id"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type toggleReactionRequest struct {
	Emoji string `json:"emoji"`
}

type pageQuery struct {
	PageToken      string `form:"page_token"`
	PageSize       string `form:"page_size"`
	IncludeReplies string `form:"include_replies"`
}

func (s *Server) CreateMessage(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	parentID, err := parseOptionalSnowflakeID(req.ParentMessageID)
	if err != nil {
		AbortWithError(c, newValidationError("parent_message_id", "invalid_parent_message_id", "invalid parent_message_id"))
		return
	}

	resp, err := s.messages.CreateMessage(c.Request.Context(), actorFrom(c), messagedomain.CreateMessageRequest{
		ChannelID:       channelID,
		Content:         req.Content,
		Attachments:     req.Attachments,
		ParentMessageID: parentID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListMessages(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query pageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}
	includeReplies, err := parseOptionalBool(query.IncludeReplies)
	if err != nil {
		AbortWithError(c, newValidationError("include_replies", "invalid_include_replies", "invalid include_replies"))
		return
	}

	req := messagedomain.ListMessagesRequest{
		ChannelID: channelID,
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  pageSize,
	}
	if includeReplies != nil {
		req.IncludeReplies = *includeReplies
	}

	resp, err := s.messages.ListMessages(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Messages, "page_info": resp.PageInfo})
}

func (s *Server) ListReplies(c *gin.Context) {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query pageQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page_size"))
		return
	}

	resp, err := s.messages.ListThread(c.Request.Context(), actorFrom(c), messagedomain.ListThreadRequest{
		ParentMessageID: messageID,
		PageToken:       strings.TrimSpace(query.PageToken),
		PageSize:        pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Messages, "page_info": resp.PageInfo})
}

func (s *Server) ListPinned(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.messages.ListPinned(c.Request.Context(), actorFrom(c), channelID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EditMessage(c *gin.Context) {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.messages.EditMessage(c.Request.Context(), actorFrom(c), messageID, req.Content)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteMessage(c *gin.Context) {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.messages.DeleteMessage(c.Request.Context(), actorFrom(c), messageID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) PinMessage(c *gin.Context) {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.messages.PinMessage(c.Request.Context(), actorFrom(c), messageID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UnpinMessage(c *gin.Context) {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.messages.UnpinMessage(c.Request.Context(), actorFrom(c), messageID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ToggleReaction(c *gin.Context) {
	messageID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req toggleReactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.messages.ToggleReaction(c.Request.Context(), actorFrom(c), messageID, req.Emoji)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
