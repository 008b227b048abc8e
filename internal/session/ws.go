package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/reelscout/internal/observe"
)

// readLimitSlack covers the JSON envelope and base64 expansion around a frame.
const readLimitSlack = 64 << 10

// HandlerConfig tunes the websocket transport.
type HandlerConfig struct {
	// MaxFrameBytes rejects decoded frames larger than this. Zero disables
	// the check and the socket read limit.
	MaxFrameBytes int

	// OriginPatterns are passed to [websocket.AcceptOptions]. Empty allows
	// same-origin requests only.
	OriginPatterns []string

	// InsecureSkipVerify disables the origin check entirely.
	InsecureSkipVerify bool
}

// Handler returns the websocket endpoint that feeds m. Each accepted
// connection becomes one session.
func Handler(m *Manager, cfg HandlerConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns:     cfg.OriginPatterns,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		})
		if err != nil {
			observe.Logger(r.Context()).Debug("websocket accept failed", "err", err)
			return
		}
		if cfg.MaxFrameBytes > 0 {
			c.SetReadLimit(int64(cfg.MaxFrameBytes)*4/3 + readLimitSlack)
		} else {
			c.SetReadLimit(-1)
		}

		ctx := r.Context()
		conn := &wsConn{c: c}
		id, err := m.Open(ctx, conn)
		if err != nil {
			m.metrics.RecordRejection(ctx, "open")
			reason := msgInternal
			if errors.Is(err, ErrTooManySessions) {
				reason = msgBusy
			}
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			_ = conn.Send(sendCtx, Failure(reason))
			cancel()
			_ = conn.Close("rejected")
			return
		}
		serve(ctx, m, id, c, cfg.MaxFrameBytes)
	})
}

// serve is the read loop. It returns when the peer goes away or the manager
// closes the socket.
func serve(ctx context.Context, m *Manager, id ID, c *websocket.Conn, maxFrameBytes int) {
	log := observe.SessionLogger(ctx, string(id))
	for {
		typ, raw, err := c.Read(ctx)
		if err != nil {
			// A no-op when the manager already ended the session.
			m.Close(id)
			return
		}
		if typ != websocket.MessageText {
			m.reject(ctx, log, c, errors.New("session: binary messages are not supported"))
			continue
		}
		msg, err := Decode(raw, maxFrameBytes)
		if err != nil {
			m.reject(ctx, log, c, err)
			continue
		}
		if err := m.Dispatch(id, msg); err != nil {
			if errors.Is(err, ErrCapacityExceeded) || errors.Is(err, ErrUnknownSession) {
				return
			}
			log.Debug("dispatch failed", "kind", msg.Kind, "err", err)
		}
	}
}

// reject answers a malformed message without ending the session.
func (m *Manager) reject(ctx context.Context, log *slog.Logger, c *websocket.Conn, err error) {
	m.metrics.RecordRejection(ctx, "malformed")
	log.Debug("malformed message", "err", err)
	b, _ := json.Marshal(ErrorAck("malformed message"))
	wctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_ = c.Write(wctx, websocket.MessageText, b)
}

// wsConn adapts a websocket connection to [Conn].
type wsConn struct {
	c    *websocket.Conn
	once sync.Once
}

// Send writes msg as a JSON text message.
func (w *wsConn) Send(ctx context.Context, msg Outbound) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return w.c.Write(ctx, websocket.MessageText, b)
}

// Close performs the closing handshake once. It does not wait for the peer
// longer than the library's handshake timeout.
func (w *wsConn) Close(reason string) error {
	var err error
	w.once.Do(func() {
		done := make(chan error, 1)
		go func() { done <- w.c.Close(websocket.StatusNormalClosure, reason) }()
		select {
		case err = <-done:
		case <-time.After(sendTimeout):
			err = w.c.CloseNow()
		}
	})
	return err
}
