package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	"github.com/smallbiznis/comms/internal/identity"
)

type startCallRequest struct {
	CallType string `json:"call_type"`
}

func (s *Server) StartCall(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.calls.StartCall(c.Request.Context(), actorFrom(c), channelID, calldomain.CallType(strings.TrimSpace(req.CallType)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// GetActiveCall answers data:null when the channel is idle.
func (s *Server) GetActiveCall(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.calls.GetActiveCall(c.Request.Context(), actorFrom(c), channelID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) JoinCall(c *gin.Context) {
	s.callTransition(c, s.calls.JoinCall)
}

func (s *Server) LeaveCall(c *gin.Context) {
	s.callTransition(c, s.calls.LeaveCall)
}

func (s *Server) EndCall(c *gin.Context) {
	s.callTransition(c, s.calls.EndCall)
}

type callOperation func(ctx context.Context, actor identity.Actor, callID snowflake.ID) (*calldomain.CallView, error)

func (s *Server) callTransition(c *gin.Context, op callOperation) {
	callID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := op(c.Request.Context(), actorFrom(c), callID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// ParticipantGone is the media transport's liveness signal.
func (s *Server) ParticipantGone(c *gin.Context) {
	callID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.calls.MarkParticipantGone(c.Request.Context(), callID, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
