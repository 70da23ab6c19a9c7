package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/pkg/logger"
	"github.com/gorilla/websocket"
)

// Stream reads events from a remote GET /v1/events endpoint and hands each
// one to fn, in order. It returns when ctx is cancelled or the connection
// drops. An optional callID filters to a single trade call.
func Stream(ctx context.Context, url string, callID uint64, fn func(model.Event)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev model.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			logger.Warn("skipping malformed event", "error", err)
			continue
		}
		if callID != 0 && ev.CallID != callID {
			continue
		}
		fn(ev)
	}
}
