package http

import (
	"context"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/hub"
	"github.com/dkeye/Huddle/internal/recorder"
	"github.com/dkeye/Huddle/internal/registry"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags every browser with a stable cookie token used
// as the connection identifier in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, store registry.Store, h *hub.Hub, rec *recorder.Manager) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessionStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", sessionStore))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/room.html")
	})
	r.GET("/join", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/room.html")
	})
	r.GET("/room/:room", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := &API{Store: store, Hub: h, Recorder: rec}

	rooms := r.Group("/api/rooms")
	rooms.POST("", api.createRoom)
	rooms.GET("/:room", api.getRoom)
	rooms.POST("/:room/join", api.joinRoom)
	rooms.PATCH("/:room/users/:user/media", api.updateMediaStatus)
	rooms.DELETE("/:room", api.endRoom)

	r.GET("/health", api.health)

	ctl := signal.NewController(store, h, rec, cfg.ReadLimit, cfg.PingPeriod)
	r.GET("/ws/:room/:user", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctl.HandleSignal(ctx, c)
	})

	return r
}
