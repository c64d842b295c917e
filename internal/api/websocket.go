package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"risk-desk/internal/events"
	"risk-desk/internal/series"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsMessage is the envelope pushed to clients. The first message is a
// full "snapshot"; later ones mirror series.ready/updated/reset.
type wsMessage struct {
	Kind   string              `json:"kind"`
	Series *seriesView         `json:"series,omitempty"`
	Event  *events.SeriesEvent `json:"event,omitempty"`
}

// websocket streams one series: /ws?exchange=&symbol=&timeframe=. The
// connection holds its own subscription, released on disconnect.
func (s *Server) websocket(c *gin.Context) {
	key := series.Key{
		Exchange:  strings.ToLower(c.Query("exchange")),
		Symbol:    strings.ToUpper(c.Query("symbol")),
		Timeframe: c.Query("timeframe"),
	}
	if err := key.Validate(); err != nil {
		s.respondEngineError(c, err)
		return
	}
	if s.Bus == nil {
		respondError(c, http.StatusServiceUnavailable, "BUS_NOT_READY", "bus not ready")
		return
	}

	// Listen before subscribing so the first series.ready is not missed.
	ready, unsubReady := s.Bus.Subscribe(events.EventSeriesReady, wsBuffer)
	defer unsubReady()
	updated, unsubUpdated := s.Bus.Subscribe(events.EventSeriesUpdated, wsBuffer)
	defer unsubUpdated()
	reset, unsubReset := s.Bus.Subscribe(events.EventSeriesReset, wsBuffer)
	defer unsubReset()

	sub, err := s.Engine.Subscribe(c.Request.Context(), key)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	log := s.Log.With(zap.String("key", key.String()), zap.String("subscription", sub.ID))
	log.Debug("ws connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug("ws write error", zap.Error(err))
			return false
		}
		return true
	}

	view := viewOf(sub.Snapshot(), 0)
	if !write(wsMessage{Kind: "snapshot", Series: &view}) {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		var msg any
		var ok bool
		select {
		case <-ctx.Done():
			log.Debug("ws closed")
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case msg, ok = <-ready:
		case msg, ok = <-updated:
		case msg, ok = <-reset:
		}
		if !ok {
			return
		}
		ev, isSeries := msg.(events.SeriesEvent)
		if !isSeries || ev.Exchange != key.Exchange || ev.Symbol != key.Symbol || ev.Timeframe != key.Timeframe {
			continue
		}
		if !write(wsMessage{Kind: string(ev.Kind), Event: &ev}) {
			return
		}
	}
}
