package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/provenlab/provex/internal/provex/core"
	"github.com/provenlab/provex/internal/provex/storage"
)

// Server holds the HTTP server dependencies. The API is read-only;
// mutations go through the CLI and the import pipeline.
type Server struct {
	backend storage.Backend
	log     *zap.Logger
}

// New creates a new API server.
func New(backend storage.Backend, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{backend: backend, log: log}
}

// Routes mounts all handlers on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.HealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Get("/nodes", s.ListNodes)
		r.Get("/nodes/{uuid}", s.GetNode)
		r.Get("/nodes/{uuid}/links", s.GetLinks)
		r.Get("/nodes/{uuid}/comments", s.GetComments)
	})
	return r
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"status":  "ok",
		"backend": s.backend.Name(),
	})
}

// NodeResponse is the wire form of a node.
type NodeResponse struct {
	UUID       string         `json:"uuid"`
	Type       string         `json:"type"`
	Label      string         `json:"label,omitempty"`
	CTime      time.Time      `json:"ctime"`
	MTime      time.Time      `json:"mtime"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Extras     map[string]any `json:"extras,omitempty"`
	User       string         `json:"user,omitempty"`
}

func nodeResponse(n *core.Node) NodeResponse {
	return NodeResponse{
		UUID:       n.UUID,
		Type:       n.Type,
		Label:      n.Label,
		CTime:      n.CTime,
		MTime:      n.MTime,
		Attributes: n.Attributes,
		Extras:     n.Extras,
		User:       n.UserEmail,
	}
}

// ListNodes handles GET /api/nodes
func (s *Server) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.backend.Nodes().List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := make([]NodeResponse, 0, len(nodes))
	for _, node := range nodes {
		resp = append(resp, nodeResponse(node))
	}
	s.writeJSON(w, resp)
}

// GetNode handles GET /api/nodes/{uuid}
func (s *Server) GetNode(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	node, err := s.backend.Nodes().Get(r.Context(), uuid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, nodeResponse(node))
}

// LinkResponse is the wire form of a link.
type LinkResponse struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
}

// GetLinks handles GET /api/nodes/{uuid}/links. It returns both the
// incoming and the outgoing links of the node.
func (s *Server) GetLinks(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")

	outgoing, err := s.backend.Links().ListFrom(r.Context(), uuid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	incoming, err := s.backend.Links().ListTo(r.Context(), uuid)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := make([]LinkResponse, 0, len(outgoing)+len(incoming))
	for _, link := range append(incoming, outgoing...) {
		resp = append(resp, LinkResponse{
			Source: link.Source,
			Target: link.Target,
			Type:   string(link.Type),
			Label:  link.Label,
		})
	}
	s.writeJSON(w, resp)
}

// CommentResponse is the wire form of a comment.
type CommentResponse struct {
	UUID    string    `json:"uuid"`
	CTime   time.Time `json:"ctime"`
	MTime   time.Time `json:"mtime"`
	Content string    `json:"content"`
	User    string    `json:"user,omitempty"`
}

// GetComments handles GET /api/nodes/{uuid}/comments
func (s *Server) GetComments(w http.ResponseWriter, r *http.Request) {
	uuid := chi.URLParam(r, "uuid")
	comments, err := s.backend.Comments().ListForNode(r.Context(), uuid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := make([]CommentResponse, 0, len(comments))
	for _, comment := range comments {
		resp = append(resp, CommentResponse{
			UUID:    comment.UUID,
			CTime:   comment.CTime,
			MTime:   comment.MTime,
			Content: comment.Content,
			User:    comment.UserEmail,
		})
	}
	s.writeJSON(w, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if core.IsNotFound(err) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.log.Error("request failed", zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
