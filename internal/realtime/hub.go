package realtime

import (
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/dropwire/internal/services"
	"github.com/charlesng35/dropwire/pkg/logger"
)

// Hub upgrades event-channel connections and bridges them to the session
// manager. Room membership and fan-out live in the manager; the hub owns only
// transport concerns.
type Hub struct {
	manager  *services.SessionManager
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a hub bound to the session manager. When allowedOrigins
// is empty, same-host and loopback origins are accepted; otherwise the Origin
// header must match the list exactly. Requests that carry no Origin header
// are accepted in both cases.
func NewHub(manager *services.SessionManager, allowedOrigins []string) *Hub {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return &Hub{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if len(allowed) > 0 {
					_, ok := allowed[strings.TrimRight(origin, "/")]
					return ok
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
		log: logger.WithModule("realtime"),
	}
}

// Serve upgrades the HTTP request and runs the connection until it closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(h, socket)
	go conn.writeLoop()
	conn.readLoop()
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
