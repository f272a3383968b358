package dev

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HMRPath is where browsers connect for reload events. The router serves
// it as a dev virtual item.
const HMRPath = "/_next/webpack-hmr"

// ReloadAction is the kind of a reload message.
type ReloadAction string

const (
	ActionBuilding    ReloadAction = "building"
	ActionBuilt       ReloadAction = "built"
	ActionSync        ReloadAction = "sync"
	ActionReloadPage  ReloadAction = "reloadPage"
	ActionServerError ReloadAction = "serverError"
)

// ReloadMessage is sent to browsers via WebSocket.
type ReloadMessage struct {
	Action ReloadAction `json:"action"`
	Hash   string       `json:"hash,omitempty"`
	Error  string       `json:"error,omitempty"`
}

const writeWait = 5 * time.Second

// ReloadServer manages WebSocket connections for hot reload.
type ReloadServer struct {
	clients  map[*websocket.Conn]*sync.Mutex
	mu       sync.RWMutex
	upgrader websocket.Upgrader
	logger   *zap.Logger

	// hash is the build id of the last published table.
	hash string
}

// NewReloadServer creates a new reload server.
func NewReloadServer(logger *zap.Logger) *ReloadServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReloadServer{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // dev only
			},
		},
		logger: logger.Named("hmr"),
	}
}

// ServeHTTP upgrades the connection and holds it until the client leaves.
// New clients receive a sync message with the current build hash.
func (r *ReloadServer) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	lock := &sync.Mutex{}
	r.mu.Lock()
	r.clients[conn] = lock
	hash := r.hash
	r.mu.Unlock()

	r.send(conn, lock, ReloadMessage{Action: ActionSync, Hash: hash})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	r.drop(conn)
}

// NotifyBuilding tells clients a rebuild started.
func (r *ReloadServer) NotifyBuilding() {
	r.broadcast(ReloadMessage{Action: ActionBuilding})
}

// NotifyBuilt tells clients a new table was published.
func (r *ReloadServer) NotifyBuilt(hash string) {
	r.mu.Lock()
	r.hash = hash
	r.mu.Unlock()
	r.broadcast(ReloadMessage{Action: ActionBuilt, Hash: hash})
}

// NotifyReload asks clients for a full page reload.
func (r *ReloadServer) NotifyReload() {
	r.broadcast(ReloadMessage{Action: ActionReloadPage})
}

// NotifyError shows a server error to clients.
func (r *ReloadServer) NotifyError(errMsg string) {
	r.broadcast(ReloadMessage{Action: ActionServerError, Error: errMsg})
}

func (r *ReloadServer) broadcast(msg ReloadMessage) {
	r.mu.RLock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(r.clients))
	for c, l := range r.clients {
		clients[c] = l
	}
	r.mu.RUnlock()

	for c, l := range clients {
		r.send(c, l, msg)
	}
}

func (r *ReloadServer) send(conn *websocket.Conn, lock *sync.Mutex, msg ReloadMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	lock.Lock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, data)
	lock.Unlock()
	if err != nil {
		r.drop(conn)
	}
}

func (r *ReloadServer) drop(conn *websocket.Conn) {
	r.mu.Lock()
	delete(r.clients, conn)
	r.mu.Unlock()
	conn.Close()
}

// ClientCount returns the number of connected clients.
func (r *ReloadServer) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Close closes all client connections.
func (r *ReloadServer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for client := range r.clients {
		client.Close()
		delete(r.clients, client)
	}
}
