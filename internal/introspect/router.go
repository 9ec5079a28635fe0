package introspect

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/apexdata/pitwall/internal/connection"
)

// Server adapts a connection.Connection to HTTP handlers.
type Server struct {
	conn *connection.Connection
}

// NewServer wraps conn for HTTP introspection.
func NewServer(conn *connection.Connection) *Server {
	return &Server{conn: conn}
}

// NewRouter returns a configured chi.Router exposing:
//
//	GET /healthz  – liveness probe (no authentication required)
//	GET /schema   – the connection's variable schema (Bearer token required)
//	GET /session  – the latest decoded session metadata (Bearer token required)
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on the
// authenticated routes. Pass nil to disable JWT validation.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Group(func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}
		r.Get("/schema", srv.handleSchema)
		r.Get("/session", srv.handleSession)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// variableView is the JSON-friendly projection of a schema.VarInfo: its
// cell type rendered as its name rather than the bare numeric tag.
type variableView struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Offset      int    `json:"offset"`
	Count       int    `json:"count"`
	Unit        string `json:"unit,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sc := s.conn.Schema()
	names := sc.Names()
	sort.Strings(names)

	out := make([]variableView, 0, len(names))
	for _, name := range names {
		v, ok := sc.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, variableView{
			Name:        v.Name,
			Type:        v.Type.String(),
			Offset:      v.Offset,
			Count:       v.Count,
			Unit:        v.Unit,
			Description: v.Description,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"frame_size": sc.FrameSize(),
		"native_hz":  s.conn.NativeHz(),
		"variables":  out,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	tree := s.conn.Session()
	if tree == nil {
		writeJSON(w, http.StatusOK, map[string]any{"available": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": true, "session": tree})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
