package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/app"
	"github.com/dkeye/audiostream/internal/config"
	"github.com/dkeye/audiostream/internal/core"
	"github.com/dkeye/audiostream/internal/domain"
)

// Session is the part of the controller the HTTP surface drives.
type Session interface {
	Devices() []domain.Device
	CaptureAudio(ctx context.Context, id domain.DeviceID) error
	InitializePeer(role domain.Role) error
	ClosePeer() error
	ConnectPeers(ctx context.Context, text string) error
	ToggleFilter() (bool, error)
	State() app.State
	Subscribe(id string) (<-chan core.Notification, func())
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
			c.Set("client_token_new", true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type deviceView struct {
	ID        domain.DeviceID `json:"device_id"`
	Label     string          `json:"label"`
	IsDefault bool            `json:"is_default"`
}

// statusFor maps session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBadSignal), errors.Is(err, domain.ErrUnknownDevice):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPeerNotInitialized),
		errors.Is(err, domain.ErrPeerActive),
		errors.Is(err, domain.ErrPeerClosed),
		errors.Is(err, domain.ErrNoCapture):
		return http.StatusConflict
	case errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func SetupRouter(ctx context.Context, cfg *config.Config, sess Session) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	limited := api.Group("", RateLimitMiddleware(NewRateLimiter(cfg.RateLimit, rateWindow)))

	api.GET("/devices", func(c *gin.Context) {
		devs := sess.Devices()
		out := make([]deviceView, 0, len(devs))
		for _, d := range devs {
			out = append(out, deviceView{ID: d.ID, Label: d.DisplayName(), IsDefault: d.IsDefault})
		}
		c.JSON(http.StatusOK, gin.H{"devices": out})
	})

	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.State())
	})

	limited.POST("/capture", func(c *gin.Context) {
		var req struct {
			DeviceID string `json:"device_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := sess.CaptureAudio(c.Request.Context(), domain.DeviceID(req.DeviceID)); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, sess.State())
	})

	limited.POST("/peer", func(c *gin.Context) {
		var req struct {
			Initiator bool `json:"initiator"`
		}
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := sess.InitializePeer(domain.RoleFor(req.Initiator)); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, sess.State())
	})

	limited.DELETE("/peer", func(c *gin.Context) {
		if err := sess.ClosePeer(); err != nil {
			abortWith(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	limited.POST("/signal", func(c *gin.Context) {
		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, cfg.ReadLimit))
		if err != nil {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "signal payload too large"})
			return
		}
		if err := sess.ConnectPeers(c.Request.Context(), string(body)); err != nil {
			abortWith(c, err)
			return
		}
		c.Status(http.StatusAccepted)
	})

	limited.POST("/filter/toggle", func(c *gin.Context) {
		enabled, err := sess.ToggleFilter()
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"enabled": enabled})
	})

	events := NewEventsController(sess, cfg)
	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("ct", c.GetString("client_token")).Msg("ws events endpoint hit")
		events.HandleEvents(ctx, c)
	})

	return r
}
