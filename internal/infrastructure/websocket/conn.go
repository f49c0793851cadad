// Package websocket holds the connection plumbing shared by every websocket tick source.
package websocket

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	ReadTimeout  = 60 * time.Second
	PingInterval = 25 * time.Second
	WriteTimeout = 5 * time.Second
	ReadLimit    = 1 << 20
)

var ErrStreamClosed = errors.New("websocket stream closed")

// Dial connects to url; ctx bounds the handshake only.
func Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(ReadLimit)
	return conn, nil
}

// WriteJSON sends one frame with a write deadline. Only valid before Start.
func WriteJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	defer conn.SetWriteDeadline(time.Time{})
	return conn.WriteJSON(v)
}

// Stream owns a connected socket: one reader goroutine delivering frames in order
// and one pinger keeping the read deadline alive.
type Stream struct {
	conn    *websocket.Conn
	stopped atomic.Bool
	stop    chan struct{}
	once    sync.Once
}

// Start begins reading. onMsg runs on the reader goroutine. onExit is called at most
// once, when the connection fails on its own; never after Close.
func Start(conn *websocket.Conn, onMsg func([]byte), onExit func(error)) *Stream {
	s := &Stream{conn: conn, stop: make(chan struct{})}

	_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		return nil
	})

	go s.pingLoop()
	go s.readLoop(onMsg, onExit)
	return s
}

func (s *Stream) readLoop(onMsg func([]byte), onExit func(error)) {
	for {
		_, b, err := s.conn.ReadMessage()
		if s.stopped.Load() {
			return
		}
		if err != nil {
			s.shutdown()
			if onExit != nil {
				onExit(err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(ReadTimeout))
		onMsg(b)
	}
}

func (s *Stream) pingLoop() {
	t := time.NewTicker(PingInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			_ = s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(WriteTimeout))
		}
	}
}

func (s *Stream) shutdown() {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.Close()
	})
}

// Close stops the stream without waiting for the reader to exit. Idempotent.
func (s *Stream) Close() error {
	s.stopped.Store(true)
	s.shutdown()
	return nil
}
