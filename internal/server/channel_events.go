package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/comms/internal/realtime"
	"go.uber.org/zap"
)

const sseHeartbeatInterval = 15 * time.Second

// StreamChannelEvents is the read-only server-sent events transport for one
// channel. The first event is always the call.state snapshot.
func (s *Server) StreamChannelEvents(c *gin.Context) {
	channelID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrInternal)
		return
	}

	actor := actorFrom(c)
	ctx := c.Request.Context()
	sub, snapshot, err := s.gateway.Subscribe(ctx, actor, channelID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer sub.Close()

	s.rtMetrics.ConnectionOpened()
	defer s.rtMetrics.ConnectionClosed()

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	if err := writeChannelEvent(writer, snapshot); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			// Membership revoked.
			return
		case env := <-sub.Events():
			if err := writeChannelEvent(writer, env); err != nil {
				s.log.Debug("sse write failed",
					zap.String("channel_id", channelID.String()),
					zap.Error(err),
				)
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeChannelEvent(w io.Writer, env realtime.Envelope) error {
	data, err := realtime.Encode(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Kind, data)
	return err
}
