package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/comms/internal/authorization"
	"github.com/smallbiznis/comms/internal/call"
	calldomain "github.com/smallbiznis/comms/internal/call/domain"
	"github.com/smallbiznis/comms/internal/channel"
	channeldomain "github.com/smallbiznis/comms/internal/channel/domain"
	"github.com/smallbiznis/comms/internal/config"
	"github.com/smallbiznis/comms/internal/identity"
	"github.com/smallbiznis/comms/internal/message"
	messagedomain "github.com/smallbiznis/comms/internal/message/domain"
	"github.com/smallbiznis/comms/internal/observability"
	obsmiddleware "github.com/smallbiznis/comms/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/comms/internal/observability/metrics"
	obstracing "github.com/smallbiznis/comms/internal/observability/tracing"
	"github.com/smallbiznis/comms/internal/organization"
	"github.com/smallbiznis/comms/internal/providers"
	"github.com/smallbiznis/comms/internal/ratelimit"
	"github.com/smallbiznis/comms/internal/realtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(identity.NewResolver),
	authorization.Module,
	organization.Module,
	providers.Module,
	ratelimit.Module,
	channel.Module,
	message.Module,
	call.Module,
	realtime.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	resolver  *identity.Resolver
	channels  channeldomain.Service
	messages  messagedomain.Service
	calls     calldomain.Service
	gateway   *realtime.Gateway
	rtMetrics *obsmetrics.Realtime
	upgrader  websocket.Upgrader
}

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	Resolver  *identity.Resolver
	Channels  channeldomain.Service
	Messages  messagedomain.Service
	Calls     calldomain.Service
	Gateway   *realtime.Gateway
	RTMetrics *obsmetrics.Realtime `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http.server"),
		resolver:  p.Resolver,
		channels:  p.Channels,
		messages:  p.Messages,
		calls:     p.Calls,
		gateway:   p.Gateway,
		rtMetrics: p.RTMetrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth only; no cookies are read on upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerRealtimeRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	channels := api.Group("/channels")
	{
		channels.POST("", s.CreateChannel)
		channels.GET("", s.ListChannels)
		channels.GET("/:id", s.GetChannel)
		channels.POST("/:id/archive", s.ArchiveChannel)

		channels.GET("/:id/members", s.ListMembers)
		channels.POST("/:id/members", s.AddMember)
		channels.DELETE("/:id/members/:userId", s.RemoveMember)
		channels.PATCH("/:id/members/:userId", s.UpdateMemberRole)

		channels.GET("/:id/messages", s.ListMessages)
		channels.POST("/:id/messages", s.CreateMessage)
		channels.GET("/:id/pins", s.ListPinned)

		channels.POST("/:id/calls", s.StartCall)
		channels.GET("/:id/calls/active", s.GetActiveCall)

		channels.GET("/:id/events", s.StreamChannelEvents)
	}

	messages := api.Group("/messages")
	{
		messages.PATCH("/:id", s.EditMessage)
		messages.DELETE("/:id", s.DeleteMessage)
		messages.POST("/:id/pin", s.PinMessage)
		messages.DELETE("/:id/pin", s.UnpinMessage)
		messages.POST("/:id/reactions", s.ToggleReaction)
		messages.GET("/:id/replies", s.ListReplies)
	}

	calls := api.Group("/calls")
	{
		calls.POST("/:id/join", s.JoinCall)
		calls.POST("/:id/leave", s.LeaveCall)
		calls.POST("/:id/end", s.EndCall)
	}
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.InternalTokenRequired())
	internal.POST("/calls/:id/participants/:userId/gone", s.ParticipantGone)
}

func (s *Server) registerRealtimeRoutes() {
	s.engine.GET("/ws", s.AuthRequired(), s.ServeWebSocket)
}
