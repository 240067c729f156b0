// ABOUTME: Public room directory: redacted projection over the room store
// ABOUTME: Serves the listing over HTTP and pushes it to browser clients over WebSocket

package directory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stagecast/stagecast/internal/store"
)

// RoomLister is the slice of the store the directory needs
type RoomLister interface {
	ListPublicLive(ctx context.Context) ([]store.RoomSummary, error)
}

// Entry is one row of the public listing. It is the only room shape exposed
// to unauthenticated clients and deliberately has nowhere to put passwords,
// relay credentials or payment configuration.
type Entry struct {
	Name    string `json:"name"`
	Viewers int    `json:"viewers"`
	Title   string `json:"title,omitempty"`
	Live    bool   `json:"live"`
}

// Listing is the full public directory snapshot
type Listing struct {
	Rooms []Entry `json:"rooms"`
}

const writeTimeout = 10 * time.Second

// Directory projects public live rooms for discovery and pushes the listing
// to connected WebSocket clients on an interval.
type Directory struct {
	rooms    RoomLister
	logger   *slog.Logger
	interval time.Duration
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// New creates a directory over the given room lister. pushInterval controls
// how often connected WebSocket clients receive a fresh listing.
func New(rooms RoomLister, pushInterval time.Duration, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		rooms:    rooms,
		logger:   logger.With("component", "directory"),
		interval: pushInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The listing is public; any origin may subscribe
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ListPublic returns the current public listing. Rooms is never nil so the
// JSON rendering is always an array.
func (d *Directory) ListPublic(ctx context.Context) (Listing, error) {
	summaries, err := d.rooms.ListPublicLive(ctx)
	if err != nil {
		return Listing{}, err
	}

	entries := make([]Entry, 0, len(summaries))
	for _, s := range summaries {
		entries = append(entries, Entry{
			Name:    s.Name,
			Viewers: s.Viewers,
			Title:   s.Title,
			Live:    s.IsLive,
		})
	}
	return Listing{Rooms: entries}, nil
}

// HandleList handles GET /api/rooms requests with a one-shot listing.
func (d *Directory) HandleList(w http.ResponseWriter, r *http.Request) {
	listing, err := d.ListPublic(r.Context())
	if err != nil {
		d.logger.Error("listing public rooms", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(listing); err != nil {
		d.logger.Debug("writing listing response", "error", err)
	}
}

// HandleSocket handles GET /ws/directory requests. The client receives the
// listing immediately on connect and then on every push interval tick until
// it disconnects or the directory shuts down.
func (d *Directory) HandleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		d.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	if !d.track(conn) {
		conn.Close()
		return
	}
	d.logger.Debug("directory client connected", "remote", conn.RemoteAddr().String())

	go d.pushLoop(conn)
}

// track registers a live connection; returns false if the directory is closed
func (d *Directory) track(conn *websocket.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.conns[conn] = struct{}{}
	return true
}

func (d *Directory) untrack(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, conn)
}

// pushLoop owns one client connection: immediate snapshot, then ticks.
func (d *Directory) pushLoop(conn *websocket.Conn) {
	defer func() {
		d.untrack(conn)
		conn.Close()
		d.logger.Debug("directory client disconnected", "remote", conn.RemoteAddr().String())
	}()

	// Reader goroutine: the client never sends data we care about, but
	// reading is required to notice closes and process control frames
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := d.pushListing(conn); err != nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-ticker.C:
			if err := d.pushListing(conn); err != nil {
				return
			}
		}
	}
}

func (d *Directory) pushListing(conn *websocket.Conn) error {
	listing, err := d.ListPublic(context.Background())
	if err != nil {
		d.logger.Error("listing public rooms for push", "error", err)
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(listing); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			d.logger.Debug("websocket write failed", "error", err)
		}
		return err
	}
	return nil
}

// Close disconnects all clients and stops accepting new ones
func (d *Directory) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true

	for conn := range d.conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	d.conns = make(map[*websocket.Conn]struct{})
	d.logger.Info("directory closed")
}
