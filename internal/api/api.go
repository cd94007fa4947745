package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/raffaelramalhorosa/futurefeed/internal/metrics"
	"github.com/raffaelramalhorosa/futurefeed/internal/models"
	"github.com/raffaelramalhorosa/futurefeed/internal/presets"
	"github.com/raffaelramalhorosa/futurefeed/internal/store"
)

// UserHeader carries the caller's user ID.
const UserHeader = "X-User-ID"

// Server holds dependencies for the HTTP handlers.
type Server struct {
	repo    store.Repository
	presets *presets.Service
	metrics *metrics.Registry
	logger  zerolog.Logger
	router  *mux.Router
}

// New wires up routes and returns a ready-to-use Server. reg may be nil, in
// which case /metrics is not served.
func New(repo store.Repository, svc *presets.Service, reg *metrics.Registry, logger zerolog.Logger) *Server {
	srv := &Server{
		repo:    repo,
		presets: svc,
		metrics: reg,
		logger:  logger.With().Str("component", "api").Logger(),
		router:  mux.NewRouter(),
	}
	srv.routes()
	return srv
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ---------- Routes ----------

func (s *Server) routes() {
	r := s.router
	r.Use(s.requestID, s.accessLog)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/topics", s.handleListTopics).Methods(http.MethodGet)
	r.HandleFunc("/api/topics", s.handleCreateTopic).Methods(http.MethodPost)
	r.HandleFunc("/api/posts", s.handleCreatePost).Methods(http.MethodPost)
	r.HandleFunc("/api/bots", s.handleListBots).Methods(http.MethodGet)
	r.HandleFunc("/api/bots", s.handleAddBot).Methods(http.MethodPost)

	p := r.PathPrefix("/api/presets").Subrouter()
	p.HandleFunc("", s.handleListPresets).Methods(http.MethodGet)
	p.HandleFunc("", s.handleCreatePreset).Methods(http.MethodPost)
	p.HandleFunc("/default", s.handleDefaultPreset).Methods(http.MethodGet)
	p.HandleFunc("/{id:[0-9]+}", s.handleUpdatePreset).Methods(http.MethodPut)
	p.HandleFunc("/{id:[0-9]+}", s.handleDeletePreset).Methods(http.MethodDelete)
	p.HandleFunc("/{id:[0-9]+}/default", s.handleSetDefault).Methods(http.MethodPut)

	p.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	p.HandleFunc("/rules/{presetId:[0-9]+}", s.handleListRules).Methods(http.MethodGet)
	p.HandleFunc("/rules/{ruleId:[0-9]+}", s.handleUpdateRule).Methods(http.MethodPut)
	p.HandleFunc("/rules/{ruleId:[0-9]+}", s.handleDeleteRule).Methods(http.MethodDelete)

	p.HandleFunc("/feed/{presetId:[0-9]+}", s.handleFeed).Methods(http.MethodGet)
	p.HandleFunc("/feed/{presetId:[0-9]+}/paginated", s.handleFeedPage).Methods(http.MethodGet)
}

// ---------- Handlers ----------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.repo.ListTopics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req models.AddTopicRequest
	if !decode(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	topic, err := s.repo.CreateTopic(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.CreatePostRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" && req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "content or image_url is required")
		return
	}

	post, err := s.repo.CreatePost(r.Context(), models.Post{
		Content:  req.Content,
		ImageURL: req.ImageURL,
		Kind:     models.KindUser,
		AuthorID: &userID,
	}, req.TopicIDs)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "unknown topic")
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *Server) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := s.repo.ListBots(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (s *Server) handleAddBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.AddBotRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.FeedURL == "" {
		writeError(w, http.StatusBadRequest, "name and feed_url are required")
		return
	}
	if u, err := url.ParseRequestURI(req.FeedURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "feed_url must be an http(s) URL")
		return
	}

	bot, err := s.repo.CreateBot(r.Context(), models.Bot{
		OwnerID: userID,
		Name:    req.Name,
		FeedURL: req.FeedURL,
		TopicID: req.TopicID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info().Int64("bot_id", bot.ID).Str("name", bot.Name).Msg("bot added")
	writeJSON(w, http.StatusCreated, bot)
}

// ---------- Helpers ----------

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps service and storage errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, presets.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, presets.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, presets.ErrPercentBudget), errors.Is(err, presets.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// requireUser reads the caller's ID from UserHeader and writes a 401 when it
// is missing or not a positive integer.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnauthorized, "missing or invalid "+UserHeader)
		return 0, false
	}
	return id, true
}

// pathID parses a numeric route variable. Routes constrain these to digits,
// so only overflow can fail.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
