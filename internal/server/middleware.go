package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/comms/internal/accessmemo"
	"github.com/smallbiznis/comms/internal/identity"
	obscontext "github.com/smallbiznis/comms/internal/observability/context"
)

const (
	HeaderInternalToken = "X-Internal-Token"
	contextActorKey     = "actor"
)

// AuthRequired resolves the bearer token into an actor. Streaming requests
// may pass the token as ?token= because browsers cannot set headers on
// EventSource and WebSocket handshakes.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		streaming := isStreamingRequest(c)

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && streaming {
			token = strings.TrimSpace(c.Query("token"))
		}

		actor, err := s.resolver.Resolve(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		ctx = obscontext.WithActor(ctx, "user", actor.ID())
		if actor.OrgID != 0 {
			ctx = obscontext.WithOrgID(ctx, actor.OrgID.String())
		}
		// Long-lived streams re-check access on every frame, so they never
		// carry a memo that would outlive a role change.
		if !streaming {
			ctx = accessmemo.WithMemo(ctx)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextActorKey, actor)
		c.Next()
	}
}

// InternalTokenRequired guards endpoints called by the media transport.
func (s *Server) InternalTokenRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := strings.TrimSpace(s.cfg.InternalToken)
		got := strings.TrimSpace(c.GetHeader(HeaderInternalToken))
		if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) identity.Actor {
	v, ok := c.Get(contextActorKey)
	if !ok {
		return identity.Actor{}
	}
	actor, _ := v.(identity.Actor)
	return actor
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func isStreamingRequest(c *gin.Context) bool {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}
