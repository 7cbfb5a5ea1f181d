package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"brand_hero_content/generator"
	"brand_hero_content/logging"
	"brand_hero_content/publisher"
)

const defaultRequestTimeout = 3 * time.Minute

// PostGenerator runs the generation pipeline.
type PostGenerator interface {
	Run(ctx context.Context, companyID string, count int) ([]generator.Artifact, error)
}

// PostEditor runs edit turns and reads saved posts.
type PostEditor interface {
	Run(ctx context.Context, req generator.EditRequest) (generator.EditResult, error)
	LoadPost(ctx context.Context, postID string) (generator.Artifact, error)
}

// ContextCollector gathers company and brand hero context conversationally.
type ContextCollector interface {
	RunCompanyContext(ctx context.Context, companyID, userResponse string, finish bool) (generator.CollectResult, error)
	RunBrandHero(ctx context.Context, companyID, userResponse string, finish bool) (generator.CollectResult, error)
}

// StrategyPlanner proposes and stores content strategies.
type StrategyPlanner interface {
	Propose(ctx context.Context, companyID string) (generator.Strategy, error)
	Save(ctx context.Context, companyID string, strategy generator.Strategy) error
	Load(ctx context.Context, companyID string) (generator.Strategy, error)
}

// ImageSource serves archived images.
type ImageSource interface {
	Open(ctx context.Context, id string) ([]byte, string, error)
}

// Deps are the services behind the HTTP routes.
type Deps struct {
	Pipeline       PostGenerator
	Editor         PostEditor
	Collector      ContextCollector
	Strategy       StrategyPlanner
	Images         ImageSource
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

type Server struct {
	deps    Deps
	logger  *slog.Logger
	timeout time.Duration
}

func New(deps Deps) (*Server, error) {
	if deps.Pipeline == nil || deps.Editor == nil {
		return nil, errors.New("pipeline and editor required")
	}
	if deps.Collector == nil || deps.Strategy == nil {
		return nil, errors.New("collector and strategy service required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Server{deps: deps, logger: logger.With("component", "server"), timeout: timeout}, nil
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/companies/{id}/posts", s.handleGenerate)
	mux.HandleFunc("POST /api/companies/{id}/context", s.handleCompanyContext)
	mux.HandleFunc("POST /api/companies/{id}/brand-hero", s.handleBrandHero)
	mux.HandleFunc("GET /api/companies/{id}/strategy", s.handleStrategyGet)
	mux.HandleFunc("PUT /api/companies/{id}/strategy", s.handleStrategyPut)
	mux.HandleFunc("POST /api/posts/edit", s.handleEdit)
	mux.HandleFunc("GET /api/posts/{id}/preview", s.handlePreview)
	mux.HandleFunc("GET /api/images/{id}", s.handleImage)
	return logMiddleware(s.logger, mux)
}

// --- Handlers ---

type generateReq struct {
	Count int `json:"count"`
}

type generateResp struct {
	CompanyID string               `json:"company_id"`
	Posts     []generator.Artifact `json:"posts"`
}

type editReq struct {
	Post           generator.Artifact `json:"post"`
	CompanyID      string             `json:"company_id"`
	ConversationID string             `json:"conversation_id"`
	UserResponse   string             `json:"user_response"`
	Finish         bool               `json:"finish"`
}

type collectReq struct {
	UserResponse string `json:"user_response"`
	Finish       bool   `json:"finish"`
}

type errorResp struct {
	Error  string `json:"error"`
	Result any    `json:"result,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateReq
	if !decodeBody(w, r, &req) {
		return
	}
	companyID := r.PathValue("id")
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	posts, err := s.deps.Pipeline.Run(ctx, companyID, req.Count)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, generateResp{CompanyID: companyID, Posts: posts})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editReq
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := s.deps.Editor.Run(ctx, generator.EditRequest{
		Artifact:       req.Post,
		CompanyID:      req.CompanyID,
		ConversationID: req.ConversationID,
		UserResponse:   req.UserResponse,
		Finish:         req.Finish,
	})
	if err != nil {
		// APPLIED edits still carry the artifact the client should keep
		var partial any
		if res.ConversationID != "" {
			partial = res
		}
		s.writeError(w, err, partial)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCompanyContext(w http.ResponseWriter, r *http.Request) {
	s.collect(w, r, s.deps.Collector.RunCompanyContext)
}

func (s *Server) handleBrandHero(w http.ResponseWriter, r *http.Request) {
	s.collect(w, r, s.deps.Collector.RunBrandHero)
}

func (s *Server) collect(w http.ResponseWriter, r *http.Request, run func(context.Context, string, string, bool) (generator.CollectResult, error)) {
	var req collectReq
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	res, err := run(ctx, r.PathValue("id"), req.UserResponse, req.Finish)
	if err != nil {
		var partial any
		if res.Output != "" {
			partial = res
		}
		s.writeError(w, err, partial)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleStrategyGet returns the stored strategy; ?propose=true drafts a new one.
func (s *Server) handleStrategyGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	companyID := r.PathValue("id")

	var (
		strategy generator.Strategy
		err      error
	)
	if propose := r.URL.Query().Get("propose"); propose == "1" || strings.EqualFold(propose, "true") {
		strategy, err = s.deps.Strategy.Propose(ctx, companyID)
	} else {
		strategy, err = s.deps.Strategy.Load(ctx, companyID)
	}
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handleStrategyPut(w http.ResponseWriter, r *http.Request) {
	var strategy generator.Strategy
	if !decodeBody(w, r, &strategy) {
		return
	}
	if err := s.deps.Strategy.Save(r.Context(), r.PathValue("id"), strategy); err != nil {
		s.writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, strategy)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	post, err := s.deps.Editor.LoadPost(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	html, err := publisher.RenderPost(post)
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Images == nil {
		http.NotFound(w, r)
		return
	}
	data, contentType, err := s.deps.Images.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(data)
}

// --- Helpers ---

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: err.Error()})
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, generator.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, generator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generator.ErrPersistence):
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, partial any) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "persistence: " + msg
	}
	s.logger.Warn("request failed", "status", status, "error", err)
	writeJSON(w, status, errorResp{Error: msg, Result: partial})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if path == "" {
			path = "/"
		}
		logger.Info("http", "method", r.Method, "path", path, "status", rec.status, "elapsed", time.Since(start))
	})
}
