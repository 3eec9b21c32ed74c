package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/ws", hub.HandleWS)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, action, topic string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(controlFrame{Action: action, Topic: topic}))
}

func waitRoomSize(t *testing.T, hub *Hub, topic string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.RoomSize(topic) == want
	}, 2*time.Second, 10*time.Millisecond, "room %q never reached size %d", topic, want)
}

func TestHubDeliversToJoinedRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	sendControl(t, conn, "join", "status:open")
	waitRoomSize(t, hub, "status:open", 1)

	payload, _ := json.Marshal(map[string]string{"action": "update"})
	hub.Deliver("status:open", payload)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var fr frame
	require.NoError(t, conn.ReadJSON(&fr))
	assert.Equal(t, "status:open", fr.Topic)
	assert.JSONEq(t, string(payload), string(fr.Payload))
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	sendControl(t, conn, "join", "notification")
	waitRoomSize(t, hub, "notification", 1)

	sendControl(t, conn, "leave", "notification")
	waitRoomSize(t, hub, "notification", 0)

	// Deliver to an empty room is a no-op, not a panic.
	hub.Deliver("notification", []byte(`{}`))
}

func TestHubDeliverOnlyReachesTheTopicRoom(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	sendControl(t, conn, "join", "ticket-detail:7")
	waitRoomSize(t, hub, "ticket-detail:7", 1)

	hub.Deliver("ticket-detail:8", []byte(`{"other":"room"}`))
	hub.Deliver("ticket-detail:7", []byte(`{"mine":"yes"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var fr frame
	require.NoError(t, conn.ReadJSON(&fr))
	// The first frame received must be from the joined room.
	assert.Equal(t, "ticket-detail:7", fr.Topic)
}

// stuckClient is a hub member with no capacity and no pumps: every delivery
// to it takes the slow-client path.
func stuckClient(hub *Hub, topic string) *client {
	c := &client{
		hub:    hub,
		send:   make(chan frame),
		topics: make(map[string]struct{}),
	}
	hub.join(c, topic)
	return c
}

// Two delivery sources (the local dispatcher and the relay subscriber) can
// hit the same stuck client at once. Eviction must happen exactly once;
// a double close of the client's channel would bring the process down.
func TestHubConcurrentDeliverToStuckClients(t *testing.T) {
	hub := NewHub(zap.NewNop())

	for i := 0; i < 100; i++ {
		for j := 0; j < 4; j++ {
			stuckClient(hub, "status:open")
		}

		var wg sync.WaitGroup
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				hub.Deliver("status:open", []byte(`{}`))
			}()
		}
		wg.Wait()

		// Every stuck client was evicted by whichever delivery saw it first.
		assert.Equal(t, 0, hub.RoomSize("status:open"))
	}
}

// Disconnect teardown and a slow-client drop may race on the same client;
// both funnel through the idempotent eviction.
func TestHubRemoveIsIdempotent(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := stuckClient(hub, "notification")

	hub.Deliver("notification", []byte(`{}`)) // evicts and closes
	hub.remove(c)                             // disconnect path, second time

	assert.Equal(t, 0, hub.RoomSize("notification"))
}

func TestHubDisconnectCleansRooms(t *testing.T) {
	hub := NewHub(zap.NewNop())
	conn := dialHub(t, hub)

	sendControl(t, conn, "join", "status:pending")
	waitRoomSize(t, hub, "status:pending", 1)

	conn.Close()
	waitRoomSize(t, hub, "status:pending", 0)
}
