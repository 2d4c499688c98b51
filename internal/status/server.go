// ABOUTME: HTTP and WebSocket status surface for a running node
// ABOUTME: Serves one-shot JSON snapshots and a streaming status feed
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/NetClocks-Protocol/netclocks-go/internal/node"
	"github.com/gorilla/websocket"
)

// DefaultStreamInterval is how often the websocket feed pushes snapshots.
const DefaultStreamInterval = time.Second

// Source provides the node snapshot the server publishes.
type Source interface {
	Status() node.Status
}

// Server exposes node status over HTTP.
type Server struct {
	source   Source
	interval time.Duration
	upgrader websocket.Upgrader

	httpServer *http.Server
	mux        *http.ServeMux

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a status server for the given node.
func New(source Source, port int) *Server {
	mux := http.NewServeMux()
	s := &Server{
		source:   source,
		interval: DefaultStreamInterval,
		mux:      mux,
		upgrader: websocket.Upgrader{
			// Status is read-only and bound to trusted local networks.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

// Start begins serving. It returns once the listener is running; serve
// errors after that are logged.
func (s *Server) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("Status server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Status server error: %v", err)
		}
	}()
}

// Stop shuts the server down, closing active websocket feeds.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("Status server shutdown: %v", err)
		}
		s.wg.Wait()
	})
}

// handleStatus serves a single JSON snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.source.Status()); err != nil {
		log.Printf("Encoding status snapshot: %v", err)
	}
}

// handleWebSocket streams snapshots until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Drain client frames so pings and close handshakes are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Push one snapshot immediately so clients render without waiting.
	if err := conn.WriteJSON(s.source.Status()); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(s.source.Status()); err != nil {
				return
			}
		}
	}
}
