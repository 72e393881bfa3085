package web

import (
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/api"
)

// watch upgrades to a websocket and forwards bus events as JSON envelopes.
// The optional "prefix" query parameter filters by event kind.
func (s *Server) watch(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, unsub := s.monitor.Bus.Subscribe(c.Query("prefix"), 256)
	defer unsub()

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(s.base)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			env, err := api.NewEnvelope(s.monitor.Session, evt)
			if err != nil {
				s.logger.Warn("dropping event", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
