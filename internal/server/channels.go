package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
)

type createChannelRequest struct {
	Type            string `json:"type"`
	OrgID           string `json:"org_id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	ParentChannelID string `json:"parent_channel_id"`
	CounterpartID   string `json:"counterpart_id"`
}

type addMemberRequest struct {
	UserID    string `json:"user_id"`
	Role      string `json:"role"`
	IsGuest   bool   `json:"is_guest"`
	IsDefault bool   `json:"is_default"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) CreateChannel(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := parseOptionalSnowflakeID(req.OrgID)
	if err != nil {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org_id"))
		return
	}
	parentID, err := parseOptionalSnowflakeID(req.ParentChannelID)
	if err != nil {
		AbortWithError(c, newValidationError("parent_channel_id", "invalid_parent_channel_id", "invalid parent_channel_id"))
		return
	}
	counterpart, err := parseOptionalSnowflakeID(req.CounterpartID)
	if err != nil {
		AbortWithError(c, newValidationError("counterpart_id", "invalid_counterpart_id", "invalid counterpart_id"))
		return
	}

	create := channeldomain.CreateChannelRequest{
		Type:            channeldomain.ChannelType(strings.TrimSpace(req.Type)),
		OrgID:           orgID,
		Name:            strings.TrimSpace(req.Name),
		Description:     strings.TrimSpace(req.Description),
		ParentChannelID: parentID,
	}
	if counterpart != nil {
		create.Counterpart = *counterpart
	}

	resp, err := s.channels.CreateChannel(c.Request.Context(), actorFrom(c), create)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListChannels(c *gin.Context) {
	var query struct {
		OrgID           string `form:"org_id"`
		Type            string `form:"type"`
		ParentChannelID string `form:"parent_channel_id"`
		IncludeArchived string `form:"include_archived"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orgID, err := parseOptionalSnowflakeID(query.OrgID)
	if err != nil {
		AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org_id"))
		return
	}
	parentID, err := parseOptionalSnowflakeID(query.ParentChannelID)
	if err != nil {
		AbortWithError(c, newValidationError("parent_channel_id", "invalid_parent_channel_id", "invalid parent_channel_id"))
		return
	}
	includeArchived, err := parseOptionalBool(query.IncludeArchived)
	if err != nil {
		AbortWithError(c, newValidationError("include_archived", "invalid_include_archived", "invalid include_archived"))
		return
	}

	req := channeldomain.ListChannelsRequest{
		OrgID:           orgID,
		Type:            channeldomain.ChannelType(strings.TrimSpace(query.Type)),
		ParentChannelID: parentID,
	}
	if includeArchived != nil {
		req.IncludeArchived = *includeArchived
	}

	resp, err := s.channels.ListChannelsForUser(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetChannel(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.channels.GetChannel(c.Request.Context(), actorFrom(c), channelID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveChannel(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.channels.ArchiveChannel(c.Request.Context(), actorFrom(c), channelID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListMembers(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.channels.ListMembers(c.Request.Context(), actorFrom(c), channelID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) AddMember(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := parseOptionalSnowflakeID(req.UserID)
	if err != nil || userID == nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user_id"))
		return
	}

	resp, err := s.channels.AddMember(c.Request.Context(), actorFrom(c), channeldomain.AddMemberRequest{
		ChannelID: channelID,
		UserID:    *userID,
		Role:      channeldomain.Role(strings.TrimSpace(req.Role)),
		IsGuest:   req.IsGuest,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) RemoveMember(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.channels.RemoveMember(c.Request.Context(), actorFrom(c), channelID, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) UpdateMemberRole(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := parseIDParam(c, "userId")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req updateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.channels.UpdateRole(c.Request.Context(), actorFrom(c), channelID, userID, channeldomain.Role(strings.TrimSpace(req.Role)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
