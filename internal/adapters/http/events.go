package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/audiostream/internal/config"
	"github.com/dkeye/audiostream/internal/core"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// EventsController streams session notifications to browsers.
type EventsController struct {
	sess       Session
	readLimit  int64
	pingPeriod time.Duration
}

func NewEventsController(sess Session, cfg *config.Config) *EventsController {
	return &EventsController{
		sess:       sess,
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
	}
}

func (ctl *EventsController) pongWait() time.Duration {
	return ctl.pingPeriod * 10 / 9
}

func (ctl *EventsController) HandleEvents(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}

	id := uuid.NewString()
	logger := log.With().
		Str("module", "adapters.http").
		Str("ct", c.GetString("client_token")).
		Str("conn", id).
		Logger()

	notes, unsubscribe := ctl.sess.Subscribe(id)
	ctx, cancel := context.WithCancel(ctx)

	// A late page still needs the payload the user is supposed to copy. The
	// subscription is already live, so the same payload may also be queued.
	cached := ctl.sess.State().LastSignal
	if cached != "" {
		if err := writeJSON(ws, core.Notification{Type: "signal", Data: cached}); err != nil {
			logger.Error().Err(err).Msg("send last signal")
		}
	}

	go ctl.writePump(ctx, ws, notes, cached, logger)
	go func() {
		defer func() {
			cancel()
			unsubscribe()
			_ = ws.Close()
			logger.Info().Msg("events feed closed")
		}()
		ctl.readPump(ws, logger)
	}()
}

func writeJSON(ws *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, b)
}

// writePump forwards notifications to ws. The first signal equal to sent is
// dropped since the client already has it.
func (ctl *EventsController) writePump(ctx context.Context, ws *websocket.Conn, notes <-chan core.Notification, sent string, logger zerolog.Logger) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("writePump ctx done")
			return
		case n, ok := <-notes:
			if !ok {
				logger.Warn().Msg("writePump subscription closed")
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			if sent != "" && n.Type == "signal" {
				dup := n.Data == sent
				sent = ""
				if dup {
					continue
				}
			}
			if err := writeJSON(ws, n); err != nil {
				logger.Error().Err(err).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Error().Err(err).Msg("writePump ping")
				return
			}
		}
	}
}

// readPump keeps the connection alive. The feed is one-way; incoming
// messages are dropped.
func (ctl *EventsController) readPump(ws *websocket.Conn, logger zerolog.Logger) {
	ws.SetReadLimit(ctl.readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error().Err(err).Msg("readPump read error")
			}
			return
		}
	}
}
