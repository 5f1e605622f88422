package control

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 5 * time.Second

// StatusStream pushes the liveness status to the client on every update.
func (api *Api) StatusStream(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		api.log.Err(err).Msg("Error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")

	sub := api.board.Subscribe(10)
	defer api.board.Unsubscribe(sub)

	// client messages are ignored; reading only detects the close
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			pushed, skipped := sub.Stat()
			api.log.Debug().Uint64("pushed", pushed).Uint64("skipped", skipped).Msg("status stream closed")
			c.Close(websocket.StatusNormalClosure, "")
			return
		case st := <-sub.C:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = wsjson.Write(wctx, c, st)
			cancel()
			if err != nil {
				api.log.Err(err).Msg("Error while writing to connection")
				return
			}
		}
	}
}
