package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (c *Client) writePump() {
	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}
	for {
		select {
		case <-c.done:
			log.Info().Str("module", "signal").Msg("writePump done")
			return
		case <-ping:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump ping")
				_ = c.Close()
				return
			}
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		_ = c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			}
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}
	if !msg.Notification {
		c.resolve(msg)
		return
	}

	switch core.RemoteEventType(msg.Method) {
	case core.RemoteProducerAdded, core.RemoteProducerClosed:
		var n producerNotification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			log.Error().Err(err).Str("module", "signal").Str("method", msg.Method).Msg("bad notification")
			return
		}
		kind, err := domain.ParseStreamKind(n.Kind)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("method", msg.Method).Msg("notification dropped")
			return
		}
		c.enqueue(core.RemoteEvent{Type: core.RemoteEventType(msg.Method), Participant: n.ParticipantID, Kind: kind})
	default:
		log.Warn().Str("module", "signal").Str("method", msg.Method).Msg("unknown notification")
	}
}
