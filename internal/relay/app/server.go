// Package app hosts the support-chat relay service: the HTTP/WebSocket
// surface, the room registry, and the relay core that authorizes, persists,
// and fans out conversation events.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/deskrelay/deskrelay/internal/platform/timeouts"
	"github.com/deskrelay/deskrelay/internal/relay/storage"
	relaysqlite "github.com/deskrelay/deskrelay/internal/relay/storage/sqlite"
	"github.com/deskrelay/deskrelay/internal/relay/token"
)

const tokenCookieName = "relay_token"

// Config defines the inputs for the relay service boundary.
type Config struct {
	HTTPAddr          string
	TokenSecret       string
	StoragePath       string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the relay HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *relaysqlite.Store
}

// credentialVerifier validates bearer credential material into an identity
// claim. Satisfied by token.Verifier.
type credentialVerifier interface {
	Verify(raw string) (token.Identity, error)
}

type wsIdentityContextKey struct{}

// NewHandler wires the relay routes over the given collaborators. Exposed
// separately from NewServer so tests can drive the full protocol through
// httptest with their own stores.
func NewHandler(verifier credentialVerifier, conversations storage.ConversationStore, messages storage.MessageStore) http.Handler {
	registry := newRoomRegistry()
	rel := newRelay(registry, conversations, messages)
	api := &apiHandler{
		verifier:      verifier,
		conversations: conversations,
		messages:      messages,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", handleUp)
	mux.HandleFunc("POST /api/conversations/start", api.handleStartConversation)
	mux.HandleFunc("GET /api/conversations/{conversationID}/messages", api.handleHistory)

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		identity := token.Identity{}
		if request := conn.Request(); request != nil {
			if resolved, ok := request.Context().Value(wsIdentityContextKey{}).(token.Identity); ok {
				identity = resolved
			}
		}
		handleWSConn(conn, rel, identity)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		accessToken := accessTokenFromRequest(r)
		if accessToken == "" {
			log.Printf("relay: websocket unauthorized: missing token for remote=%s path=%q", r.RemoteAddr, r.URL.Path)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		identity, err := verifier.Verify(accessToken)
		if err != nil {
			log.Printf("relay: websocket unauthorized: verify failed for remote=%s path=%q err=%v", r.RemoteAddr, r.URL.Path, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

func handleUp(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

// accessTokenFromRequest extracts bearer credential material from the
// Authorization header or, for browser websocket clients that cannot set
// headers, the token cookie.
func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if authorization := strings.TrimSpace(r.Header.Get("Authorization")); authorization != "" {
		if raw, ok := strings.CutPrefix(authorization, "Bearer "); ok {
			return strings.TrimSpace(raw)
		}
		return ""
	}
	cookie, err := r.Cookie(tokenCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}

// NewServer builds a configured relay server over a SQLite store.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	verifier, err := token.NewVerifier(config.TokenSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}

	store, err := relaysqlite.Open(config.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open relay store: %w", err)
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(verifier, store, store),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           store,
	}, nil
}

// Run creates and serves a relay server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("relay server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close relay store: %v", err)
		}
	}
}
