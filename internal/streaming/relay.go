package streaming

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// RelayEvent is pushed to a page subscribed for a connection: session-ready
// carries the playable URL, proof-status reports verification progress.
type RelayEvent struct {
	Kind         string `json:"kind"`
	ConnectionID string `json:"connectionId"`
	SessionURL   string `json:"sessionUrl,omitempty"`
	ProofStatus  string `json:"proofStatus,omitempty"`
}

// Relay fans session and proof events out to websocket subscribers. The
// webhook flow publishes; a page opened from the chat link subscribes. Events
// published with no subscriber are dropped.
type Relay struct {
	allowedOrigin string
	isDev         bool

	mu   sync.Mutex
	subs map[string]map[chan RelayEvent]struct{}
}

// NewRelay creates a relay.
func NewRelay(allowedOrigin string, isDev bool) *Relay {
	return &Relay{
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		subs:          make(map[string]map[chan RelayEvent]struct{}),
	}
}

// Publish delivers an event to every subscriber of a connection.
func (r *Relay) Publish(ev RelayEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ch := range r.subs[ev.ConnectionID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the webhook path.
		}
	}
}

func (r *Relay) subscribe(connectionID string) chan RelayEvent {
	ch := make(chan RelayEvent, 16)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[connectionID] == nil {
		r.subs[connectionID] = make(map[chan RelayEvent]struct{})
	}
	r.subs[connectionID][ch] = struct{}{}
	return ch
}

func (r *Relay) unsubscribe(connectionID string, ch chan RelayEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs[connectionID], ch)
	if len(r.subs[connectionID]) == 0 {
		delete(r.subs, connectionID)
	}
}

// ServeHTTP upgrades to a websocket and streams relay events for the
// connection id given in the query string.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	connectionID := req.URL.Query().Get("connection_id")
	if connectionID == "" {
		http.Error(w, "connection_id is required", http.StatusBadRequest)
		return
	}

	opts := &websocket.AcceptOptions{}
	if r.isDev {
		opts.InsecureSkipVerify = true
	} else if r.allowedOrigin != "" {
		opts.OriginPatterns = []string{r.allowedOrigin}
	}

	conn, err := websocket.Accept(w, req, opts)
	if err != nil {
		slog.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	ch := r.subscribe(connectionID)
	defer r.unsubscribe(connectionID, ch)

	ctx := req.Context()
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case ev := <-ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "connection_id", connectionID, "error", err)
				return
			}
		}
	}
}
