package stream

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// SnapshotFunc returns the current state of a trip, sent to a client as its
// first message.
type SnapshotFunc func(tripID string) ([]byte, error)

func RegisterRoutes(r fiber.Router, hub *Hub, snapshot SnapshotFunc) {
	r.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	r.Get("/ws/:tripID", websocket.New(func(c *websocket.Conn) {
		tripID := c.Params("tripID")
		client := hub.Register(tripID)
		defer hub.Unregister(client)

		if snapshot != nil {
			if msg, err := snapshot(tripID); err == nil {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			} else {
				msg, _ := json.Marshal(fiber.Map{"error": err.Error()})
				_ = c.WriteMessage(websocket.TextMessage, msg)
			}
		}

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
