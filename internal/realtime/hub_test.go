package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/dropwire/internal/services"
	"github.com/charlesng35/dropwire/internal/storage"
)

type wsFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func newHubServer(t *testing.T) (*httptest.Server, *services.SessionManager) {
	t.Helper()

	store, err := storage.NewBackend(t.TempDir())
	require.NoError(t, err)
	manager, err := services.NewSessionManager(store, services.ManagerConfig{
		MaxActiveSessions:      -1,
		MaxSessionStorageBytes: -1,
		UnusedGrace:            time.Hour,
		ActiveGrace:            time.Hour,
	})
	require.NoError(t, err)

	hub := NewHub(manager, nil)
	server := httptest.NewServer(http.HandlerFunc(hub.Serve))
	t.Cleanup(server.Close)
	return server, manager
}

func dial(t *testing.T, server *httptest.Server) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *wsClient) read() wsFrame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var f wsFrame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

func (c *wsClient) join(code, token string) wsFrame {
	c.t.Helper()
	payload := map[string]any{"code": code}
	if token != "" {
		payload["clientToken"] = token
	}
	c.send("joinRoom", payload)
	return c.read()
}

func TestPairingAndTextRelay(t *testing.T) {
	server, manager := newHubServer(t)
	code, err := manager.CreateSession()
	require.NoError(t, err)

	alice := dial(t, server)
	joined := alice.join(code, "")
	require.Equal(t, services.EventSessionJoined, joined.Event)
	tokenA, _ := joined.Data["clientToken"].(string)
	require.NotEmpty(t, tokenA)
	require.Empty(t, joined.Data["history"])

	bob := dial(t, server)
	joinedB := bob.join(code, "")
	require.Equal(t, services.EventSessionJoined, joinedB.Event)
	tokenB, _ := joinedB.Data["clientToken"].(string)
	require.NotEqual(t, tokenA, tokenB)

	require.Equal(t, services.EventUserConnected, alice.read().Event)
	require.Equal(t, services.EventUserConnected, bob.read().Event)

	alice.send("sendMessage", map[string]any{
		"matchCode":   code,
		"clientToken": tokenA,
		"message":     map[string]any{"type": "text", "content": "hi"},
	})

	for _, client := range []*wsClient{alice, bob} {
		frame := client.read()
		require.Equal(t, services.EventReceiveMessage, frame.Event)
		require.Equal(t, "text", frame.Data["type"])
		require.Equal(t, "hi", frame.Data["content"])
		require.Equal(t, tokenA, frame.Data["sender"])
		require.NotZero(t, frame.Data["timestamp"])
	}
}

func TestRejoinPreservesIdentityAndHistory(t *testing.T) {
	server, manager := newHubServer(t)
	code, err := manager.CreateSession()
	require.NoError(t, err)

	alice := dial(t, server)
	joined := alice.join(code, "")
	tokenA := joined.Data["clientToken"].(string)

	bob := dial(t, server)
	bob.join(code, "")
	require.Equal(t, services.EventUserConnected, alice.read().Event)
	require.Equal(t, services.EventUserConnected, bob.read().Event)

	alice.send("sendMessage", map[string]any{
		"matchCode":   code,
		"clientToken": tokenA,
		"message":     map[string]any{"type": "text", "content": "hi"},
	})
	require.Equal(t, services.EventReceiveMessage, alice.read().Event)
	require.Equal(t, services.EventReceiveMessage, bob.read().Event)

	require.NoError(t, alice.conn.Close())
	require.Equal(t, services.EventUserDisconnected, bob.read().Event)

	rejoined := dial(t, server)
	frame := rejoined.join(code, tokenA)
	require.Equal(t, services.EventSessionJoined, frame.Event)
	require.Equal(t, tokenA, frame.Data["clientToken"])

	history, ok := frame.Data["history"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
	entry := history[0].(map[string]any)
	require.Equal(t, "hi", entry["content"])
	require.Equal(t, tokenA, entry["sender"])
}

func TestThirdPeerRejected(t *testing.T) {
	server, manager := newHubServer(t)
	code, err := manager.CreateSession()
	require.NoError(t, err)

	alice := dial(t, server)
	alice.join(code, "")
	bob := dial(t, server)
	bob.join(code, "")

	carol := dial(t, server)
	frame := carol.join(code, "")
	require.Equal(t, services.EventError, frame.Event)
	require.Equal(t, "SessionFull", frame.Data["message"])
}

func TestJoinUnknownCodeReturnsError(t *testing.T) {
	server, _ := newHubServer(t)

	client := dial(t, server)
	frame := client.join("ZZZZZZ", "")
	require.Equal(t, services.EventError, frame.Event)
	require.Equal(t, "InvalidCode", frame.Data["message"])
}

func TestSendValidation(t *testing.T) {
	server, manager := newHubServer(t)
	code, err := manager.CreateSession()
	require.NoError(t, err)

	client := dial(t, server)
	joined := client.join(code, "")
	token := joined.Data["clientToken"].(string)

	// Unknown message type is reported, not fatal.
	client.send("sendMessage", map[string]any{
		"matchCode":   code,
		"clientToken": token,
		"message":     map[string]any{"type": "carrier-pigeon"},
	})
	frame := client.read()
	require.Equal(t, services.EventError, frame.Event)
	require.Equal(t, "InvalidMessageType", frame.Data["message"])

	// The connection survives and can still relay.
	client.send("sendMessage", map[string]any{
		"matchCode":   code,
		"clientToken": token,
		"message":     map[string]any{"type": "text", "content": "still here"},
	})
	frame = client.read()
	require.Equal(t, services.EventReceiveMessage, frame.Event)
	require.Equal(t, "still here", frame.Data["content"])
}

func TestSendWithoutMembershipRejected(t *testing.T) {
	server, manager := newHubServer(t)
	code, err := manager.CreateSession()
	require.NoError(t, err)

	client := dial(t, server)
	client.join(code, "")

	client.send("sendMessage", map[string]any{
		"matchCode":   code,
		"clientToken": "stranger-token",
		"message":     map[string]any{"type": "text", "content": "hi"},
	})
	frame := client.read()
	require.Equal(t, services.EventError, frame.Event)
	require.Equal(t, "NotConnected", frame.Data["message"])
}

func TestFileMetadataRelay(t *testing.T) {
	server, manager := newHubServer(t)
	code, err := manager.CreateSession()
	require.NoError(t, err)

	alice := dial(t, server)
	joined := alice.join(code, "")
	token := joined.Data["clientToken"].(string)

	alice.send("sendMessage", map[string]any{
		"matchCode":   code,
		"clientToken": token,
		"message": map[string]any{
			"type": "file",
			"metadata": map[string]any{
				"name":        "report.pdf",
				"size":        1024,
				"mimeType":    "application/pdf",
				"downloadUrl": "/downloads/" + code + "/1-report.pdf",
			},
		},
	})

	frame := alice.read()
	require.Equal(t, services.EventReceiveMessage, frame.Event)
	require.Equal(t, "file", frame.Data["type"])
	metadata := frame.Data["metadata"].(map[string]any)
	require.Equal(t, "report.pdf", metadata["name"])
}
