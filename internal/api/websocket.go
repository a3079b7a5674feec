package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/wire-sentinel/internal/router"
)

// OutcomeMessage is one websocket frame. Dropped counts outcomes this client
// missed because it read too slowly.
type OutcomeMessage struct {
	router.Outcome
	Dropped int `json:"dropped,omitempty"`
}

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// StreamOutcomes writes every router outcome to the client as JSON until
// either side goes away.
func StreamOutcomes(rt Router, w http.ResponseWriter, r *http.Request) {
	c, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Error("Failed to accept websocket client")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "closing")

	outcomes, unsub := rt.Subscribe()
	defer unsub()

	// Client frames are not expected; CloseRead cancels ctx when the client
	// closes the connection.
	ctx = c.CloseRead(ctx)
	log.Debug("Websocket client subscribed to outcomes")

	for {
		select {
		case <-ctx.Done():
			log.Debug("Websocket client went away")
			return
		case d, ok := <-outcomes:
			if !ok {
				c.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			msg := OutcomeMessage{Outcome: d.Value, Dropped: d.Missed}
			if err := wsjson.Write(ctx, c, msg); err != nil {
				log.WithError(err).Debug("Failed to write outcome to websocket client")
				return
			}
		}
	}
}
