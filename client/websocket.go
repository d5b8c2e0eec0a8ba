package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageSource yields text messages from a notification channel. ReadMessage
// blocks until a message arrives and returns an error once the channel is closed.
type MessageSource interface {
	ReadMessage() (string, error)
}

// WebSocketConnection is the notification channel of a ComfyClient
type WebSocketConnection struct {
	WebSocketURL string
	Conn         *websocket.Conn
	Dialer       websocket.Dialer
	mu           sync.Mutex // For thread-safe access to the WebSocket connection
}

func NewWebSocketConnection(wsurl string, handshakeTimeout time.Duration) *WebSocketConnection {
	dialer := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		dialer.HandshakeTimeout = handshakeTimeout
	}
	return &WebSocketConnection{WebSocketURL: wsurl, Dialer: dialer}
}

// Connect makes a single connection attempt
func (w *WebSocketConnection) Connect(ctx context.Context) error {
	conn, resp, err := w.Dialer.DialContext(ctx, w.WebSocketURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.Conn = conn
	w.mu.Unlock()
	return nil
}

// ReadMessage returns the next text message. Binary frames carry preview images
// and are dropped.
func (w *WebSocketConnection) ReadMessage() (string, error) {
	w.mu.Lock()
	conn := w.Conn
	w.mu.Unlock()
	if conn == nil {
		return "", errors.New("websocket is not connected")
	}

	for {
		mtype, message, err := conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mtype == websocket.TextMessage {
			return string(message), nil
		}
	}
}

// Close sends a close frame and closes the connection
func (w *WebSocketConnection) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Conn == nil {
		return nil
	}
	_ = w.Conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := w.Conn.Close()
	w.Conn = nil
	return err
}
