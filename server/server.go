// Package server exposes the video service over HTTP and websockets.
package server

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"videoRAG/core"
	"videoRAG/processors"
	"videoRAG/progress"
)

var wsLogger = log.New(log.Writer(), "[WS] ", log.LstdFlags)

// VideoService is the part of processors.VideoService the handlers use.
type VideoService interface {
	Submit(ctx context.Context, req processors.SubmitRequest) (*core.Video, error)
	SubmitAsync(ctx context.Context, req processors.SubmitRequest) (*core.Video, error)
	Reprocess(ctx context.Context, id string, wait bool) (*core.Video, error)
	Get(ctx context.Context, id string) (*core.Video, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, id, query string) (*core.SearchResponse, error)
	ChatRetrieve(ctx context.Context, id, question string, topK int) ([]core.ScoredEntry, error)
}

type Options struct {
	Videos    VideoService
	Progress  *progress.Hub
	Generator core.Generator
	// DataRoot is served under /media/; uploads land in MediaDir.
	DataRoot       string
	MediaDir       string
	ChatTopK       int
	AllowedOrigins []string
	MaxUploadBytes int64
	// Health probes reported by /health; any error turns the response into 503.
	Health map[string]core.HealthProbe
}

type Server struct {
	videos    VideoService
	progress  *progress.Hub
	generator core.Generator
	dataRoot  string
	mediaDir  string
	chatTopK  int
	maxUpload int64
	origins   []string
	health    map[string]core.HealthProbe
	upgrader  websocket.Upgrader
}

func New(opts Options) *Server {
	s := &Server{
		videos:    opts.Videos,
		progress:  opts.Progress,
		generator: opts.Generator,
		dataRoot:  opts.DataRoot,
		mediaDir:  opts.MediaDir,
		chatTopK:  opts.ChatTopK,
		maxUpload: opts.MaxUploadBytes,
		origins:   opts.AllowedOrigins,
		health:    opts.Health,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 512 << 20
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SplitOrigins parses a comma separated ALLOWED_ORIGINS value.
func SplitOrigins(v string) []string {
	var out []string
	for _, o := range strings.Split(v, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	report := core.RunHealthChecks(ctx, s.health)
	status := http.StatusOK
	if report.Status == core.HealthError {
		status = http.StatusServiceUnavailable
	}
	core.WriteJSON(w, status, report)
}

// handle registers path with and without its trailing slash.
func handle(r *mux.Router, path string, fn http.HandlerFunc, methods ...string) {
	r.HandleFunc(path, fn).Methods(methods...)
	if trimmed := strings.TrimSuffix(path, "/"); trimmed != path && trimmed != "" {
		r.HandleFunc(trimmed, fn).Methods(methods...)
	}
}

// Router builds the full handler tree including CORS and access logging.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	handle(r, "/api/videos/", s.uploadHandler, http.MethodPost)
	handle(r, "/api/videos/{id}/", s.getHandler, http.MethodGet)
	handle(r, "/api/videos/{id}/", s.deleteHandler, http.MethodDelete)
	handle(r, "/api/videos/{id}/reprocess/", s.reprocessHandler, http.MethodPost)
	handle(r, "/api/videos/{id}/search/", s.searchHandler, http.MethodGet)

	handle(r, "/ws/videos/{id}/progress/", s.progressSocket, http.MethodGet)
	handle(r, "/ws/videos/{id}/chat/", s.chatSocket, http.MethodGet)

	if s.dataRoot != "" {
		r.PathPrefix("/media/").Handler(
			http.StripPrefix("/media/", http.FileServer(http.Dir(s.dataRoot))),
		)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return handlers.LoggingHandler(os.Stdout, cors(r))
}
