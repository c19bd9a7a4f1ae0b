package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/setlistvote/api/internal/model"
)

// Subscriber is the slice of the status tracker the hub needs: a
// snapshot stream per job or per artist, closed after a terminal
// snapshot.
type Subscriber interface {
	Subscribe(jobID string) (<-chan *model.ImportJob, func())
	SubscribeArtist(artistID string) (<-chan *model.ImportJob, func())
}

// Hub bridges import status streams onto WebSocket connections.
type Hub struct {
	tracker Subscriber
}

func NewHub(tracker Subscriber) *Hub {
	return &Hub{tracker: tracker}
}

// HandleJobConnection streams one job's snapshots to the connection.
func (h *Hub) HandleJobConnection(c *websocket.Conn, jobID string) {
	updates, cancel := h.tracker.Subscribe(jobID)
	log.Printf("Subscriber connected for job %s", jobID)
	h.serve(c, updates, cancel)
	log.Printf("Subscriber disconnected from job %s", jobID)
}

// HandleArtistConnection streams the artist's latest job.
func (h *Hub) HandleArtistConnection(c *websocket.Conn, artistID string) {
	updates, cancel := h.tracker.SubscribeArtist(artistID)
	log.Printf("Subscriber connected for artist %s", artistID)
	h.serve(c, updates, cancel)
	log.Printf("Subscriber disconnected from artist %s", artistID)
}

// serve pumps snapshots to the socket until the stream closes (terminal
// snapshot delivered) or the client goes away. All writes happen in the
// writer goroutine; the reader loop only feeds pings and detects
// disconnects.
func (h *Hub) serve(c *websocket.Conn, updates <-chan *model.ImportJob, cancel func()) {
	defer cancel()

	pings := make(chan struct{}, 1)
	done := make(chan struct{})

	// Writer goroutine
	go func() {
		defer close(done)
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case job, ok := <-updates:
				if !ok {
					c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				data, err := json.Marshal(model.WSProgressMessage{
					Type: model.WSMessageTypeProgress,
					Job:  job,
				})
				if err != nil {
					log.Printf("Failed to marshal progress message: %v", err)
					continue
				}
				if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}

			case <-pings:
				pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
				if err := c.WriteMessage(websocket.TextMessage, pong); err != nil {
					return
				}

			case <-ticker.C:
				// Keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}

	cancel()
	<-done
}
