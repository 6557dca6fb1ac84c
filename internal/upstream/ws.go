package upstream

import (
	"context"

	"github.com/gorilla/websocket"
)

// ImageWebSocket is the thin surface the imagine_ws_experimental image
// generation method needs from a websocket connection, dialed by
// internal/api's callUpstreamWS when grok.image_generation_method is set
// to that value. It exists so the caller depends on an interface, not a
// concrete *websocket.Conn — the full handshake/session protocol a
// production client would speak here is out of scope for this gateway.
type ImageWebSocket interface {
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, payload []byte) error
	Close() error
}

type gorillaWS struct {
	conn *websocket.Conn
}

// DialImageWebSocket opens a gorilla/websocket connection and wraps it
// as an ImageWebSocket.
func DialImageWebSocket(ctx context.Context, url string, headers map[string][]string) (ImageWebSocket, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return &gorillaWS{conn: conn}, nil
}

func (w *gorillaWS) ReadFrame(ctx context.Context) ([]byte, error) {
	_, payload, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (w *gorillaWS) WriteFrame(ctx context.Context, payload []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *gorillaWS) Close() error {
	return w.conn.Close()
}
