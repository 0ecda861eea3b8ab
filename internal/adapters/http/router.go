package http

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/app/events"
	"github.com/dkeye/Viewer/internal/app/session"
	"github.com/dkeye/Viewer/internal/app/tracks"
	"github.com/dkeye/Viewer/internal/config"
	"github.com/dkeye/Viewer/internal/domain"
)

const clientTokenKey = "client_token"

// Sessions is the part of the session manager the status surface drives.
type Sessions interface {
	Connect(variant domain.Variant) (*session.Session, error)
	Disconnect(variant domain.Variant) bool
	Snapshot() []session.Info
	Sinks() []tracks.SinkStats
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps a per-browser token in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, mgr Sessions, hub *events.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ViewerSessions", store))
	r.Use(ClientTokenMiddleware())

	limiter := NewConnectLimiter(5, 10*time.Second)

	api := r.Group("/api")

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions":    mgr.Snapshot(),
			"sinks":       mgr.Sinks(),
			"subscribers": hub.SubscriberCount(),
		})
	})

	api.POST("/sessions/:variant", func(c *gin.Context) {
		variant, err := domain.ParseVariant(c.Param("variant"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if ok, wait := limiter.Allow(c.GetString(clientTokenKey), variant); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connect attempts"})
			return
		}
		s, err := mgr.Connect(variant)
		switch {
		case errors.Is(err, session.ErrManagerClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		case err != nil:
			log.Error().Err(err).Str("module", "adapters.http").Str("variant", string(variant)).Msg("connect")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		log.Info().Str("module", "adapters.http").Str("sid", string(s.ID)).Str("client", c.GetString(clientTokenKey)).Msg("connect requested")
		c.JSON(http.StatusAccepted, s.Info())
	})

	api.DELETE("/sessions/:variant", func(c *gin.Context) {
		variant, err := domain.ParseVariant(c.Param("variant"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !mgr.Disconnect(variant) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/photos", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"photos": hub.Photos()})
	})

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws events endpoint hit")
		HandleEvents(ctx, hub, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
