// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bryan-buckman/tabink/internal/database"
	apperrors "github.com/bryan-buckman/tabink/internal/errors"
	"github.com/bryan-buckman/tabink/internal/model"
	"github.com/bryan-buckman/tabink/internal/opml"
	"github.com/bryan-buckman/tabink/internal/rss"
)

// MaxImportBytes caps the size of uploaded snapshots and OPML files.
const MaxImportBytes = 64 << 20

// Server is the main HTTP server.
type Server struct {
	db      database.Store
	fetcher *rss.Fetcher
	poller  *rss.Poller
	router  chi.Router
	log     *slog.Logger
	now     func() time.Time
}

// New creates a new server. poller may be nil to disable background
// refreshes.
func New(db database.Store, fetcher *rss.Fetcher, poller *rss.Poller, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		db:      db,
		fetcher: fetcher,
		poller:  poller,
		log:     log,
		now:     time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleGetTasks)
			r.Post("/", s.handleAddTask)
			r.Get("/{id}", s.handleGetTask)
			r.Patch("/{id}", s.handleUpdateTask)
			r.Delete("/{id}", s.handleDeleteTask)
		})
		r.Route("/notes", func(r chi.Router) {
			r.Get("/", s.handleGetNotes)
			r.Post("/", s.handleSaveNote)
			r.Get("/{id}", s.handleGetNote)
			r.Put("/{id}", s.handleSaveNote)
			r.Delete("/{id}", s.handleDeleteNote)
		})
		r.Route("/sketches", func(r chi.Router) {
			r.Get("/", s.handleGetSketches)
			r.Post("/", s.handleSaveSketch)
			r.Get("/{id}", s.handleGetSketch)
			r.Put("/{id}", s.handleSaveSketch)
			r.Delete("/{id}", s.handleDeleteSketch)
		})
		r.Get("/files", s.handleGetFiles)
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.handleGetArticles)
			r.Post("/", s.handleSaveArticle)
			r.Delete("/", s.handleClearArticles)
			r.Get("/{id}", s.handleGetArticle)
			r.Patch("/{id}", s.handleUpdateArticle)
			r.Delete("/{id}", s.handleDeleteArticle)
			r.Get("/{id}/images", s.handleGetArticleImages)
			r.Post("/{id}/images", s.handleAddArticleImage)
		})
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleGetFeeds)
			r.Post("/", s.handleAddFeed)
			r.Delete("/", s.handleDeleteFeed)
		})
		r.Get("/settings", s.handleGetAppSettings)
		r.Put("/settings", s.handleSaveAppSettings)
		r.Get("/settings/{key}", s.handleGetSetting)
		r.Put("/settings/{key}", s.handleSetSetting)
		r.Get("/timer", s.handleGetTimer)
		r.Put("/timer", s.handleSaveTimer)
		r.Get("/status", s.handleStatus)
		r.Post("/flush", s.handleFlush)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/opml", s.handleExportOPML)
		r.Post("/opml", s.handleImportOPML)
		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
	})

	s.router = r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr and runs the poller until ctx is done, then shuts
// down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.poller != nil {
		s.poller.Start()
		defer s.poller.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Tasks ---

func (s *Server) handleGetTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.GetTasks(r.Context())
	s.respond(w, tasks, err)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.db.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err == nil && task == nil {
		err = apperrors.New(apperrors.ErrNotFound, "task not found")
	}
	s.respond(w, task, err)
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text    string `json:"text"`
		DueDate string `json:"dueDate"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.db.AddTask(r.Context(), req.Text, req.DueDate)
	if err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.db.GetTask(r.Context(), id)
	s.respondStatus(w, http.StatusCreated, task, err)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch model.TaskPatch
	if !s.decode(w, r, &patch) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.db.UpdateTask(r.Context(), id, patch); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleGetTask(w, r)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	s.respondEmpty(w, s.db.DeleteTask(r.Context(), chi.URLParam(r, "id")))
}

// --- Notes, sketches and files ---

func (s *Server) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.db.GetNotes(r.Context())
	s.respond(w, notes, err)
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	note, err := s.db.GetNote(r.Context(), chi.URLParam(r, "id"))
	if err == nil && note == nil {
		err = apperrors.New(apperrors.ErrNotFound, "note not found")
	}
	s.respond(w, note, err)
}

// handleSaveNote serves POST /notes and PUT /notes/{id}. A missing title is
// derived from the content.
func (s *Server) handleSaveNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	id, status := idFor(r, req.ID)
	title := req.Title
	if title == "" {
		title = model.NoteTitle(req.Content)
	}
	if err := s.db.SaveNote(r.Context(), id, title, req.Content); err != nil {
		s.writeError(w, err)
		return
	}
	note, err := s.db.GetNote(r.Context(), id)
	s.respondStatus(w, status, note, err)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	s.respondEmpty(w, s.db.DeleteNote(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleGetSketches(w http.ResponseWriter, r *http.Request) {
	sketches, err := s.db.GetSketches(r.Context())
	s.respond(w, sketches, err)
}

func (s *Server) handleGetSketch(w http.ResponseWriter, r *http.Request) {
	sketch, err := s.db.GetSketch(r.Context(), chi.URLParam(r, "id"))
	if err == nil && sketch == nil {
		err = apperrors.New(apperrors.ErrNotFound, "sketch not found")
	}
	s.respond(w, sketch, err)
}

func (s *Server) handleSaveSketch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		ImageData string `json:"imageData"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ImageData == "" {
		s.writeError(w, apperrors.New(apperrors.ErrInvalid, "imageData is required"))
		return
	}
	id, status := idFor(r, req.ID)
	title := req.Title
	if title == "" {
		title = "Untitled"
	}
	if err := s.db.SaveSketch(r.Context(), id, title, req.ImageData); err != nil {
		s.writeError(w, err)
		return
	}
	sketch, err := s.db.GetSketch(r.Context(), id)
	s.respondStatus(w, status, sketch, err)
}

func (s *Server) handleDeleteSketch(w http.ResponseWriter, r *http.Request) {
	s.respondEmpty(w, s.db.DeleteSketch(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleGetFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.db.GetAllFiles(r.Context())
	s.respond(w, files, err)
}

// --- Articles and feeds ---

func (s *Server) handleGetArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.db.GetArticles(r.Context())
	s.respond(w, articles, err)
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.db.GetArticle(r.Context(), chi.URLParam(r, "id"))
	if err == nil && article == nil {
		err = apperrors.New(apperrors.ErrNotFound, "article not found")
	}
	s.respond(w, article, err)
}

func (s *Server) handleSaveArticle(w http.ResponseWriter, r *http.Request) {
	var a model.Article
	if !s.decode(w, r, &a) {
		return
	}
	if err := s.db.SaveArticle(r.Context(), a); err != nil {
		s.writeError(w, err)
		return
	}
	saved, err := s.db.GetArticle(r.Context(), a.ID)
	s.respondStatus(w, http.StatusCreated, saved, err)
}

func (s *Server) handleUpdateArticle(w http.ResponseWriter, r *http.Request) {
	var patch model.ArticlePatch
	if !s.decode(w, r, &patch) {
		return
	}
	if err := s.db.UpdateArticle(r.Context(), chi.URLParam(r, "id"), patch); err != nil {
		s.writeError(w, err)
		return
	}
	s.handleGetArticle(w, r)
}

func (s *Server) handleDeleteArticle(w http.ResponseWriter, r *http.Request) {
	s.respondEmpty(w, s.db.DeleteArticle(r.Context(), chi.URLParam(r, "id")))
}

func (s *Server) handleClearArticles(w http.ResponseWriter, r *http.Request) {
	s.respondEmpty(w, s.db.ClearAllArticles(r.Context()))
}

func (s *Server) handleGetArticleImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.db.GetArticleImages(r.Context(), chi.URLParam(r, "id"))
	s.respond(w, images, err)
}

func (s *Server) handleAddArticleImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageURL string `json:"imageUrl"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ImageURL == "" {
		s.writeError(w, apperrors.New(apperrors.ErrInvalid, "imageUrl is required"))
		return
	}
	articleID := chi.URLParam(r, "id")
	id, err := s.db.AddArticleImage(r.Context(), articleID, req.ImageURL)
	s.respondStatus(w, http.StatusCreated, model.FeedImage{ID: id, ArticleID: articleID, ImageURL: req.ImageURL}, err)
}

func (s *Server) handleGetFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.GetFeeds(r.Context())
	s.respond(w, feeds, err)
}

func (s *Server) handleAddFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.db.AddFeed(r.Context(), req.Name, req.URL); err != nil {
		s.writeError(w, err)
		return
	}
	feed, err := s.db.GetFeedByURL(r.Context(), req.URL)
	s.respondStatus(w, http.StatusCreated, feed, err)
}

// handleDeleteFeed removes the feed named by the url query parameter.
func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("url")
	if u == "" {
		s.writeError(w, apperrors.New(apperrors.ErrInvalid, "url query parameter is required"))
		return
	}
	s.respondEmpty(w, s.db.DeleteFeed(r.Context(), u))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	results, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	total := 0
	for _, c := range results {
		total += c
	}
	s.respond(w, map[string]any{
		"status":       "ok",
		"new_articles": total,
		"feeds":        len(results),
	}, nil)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.db.GetFeeds(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := opml.Export("tabink feeds", feeds, s.now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=tabink-feeds.opml")
	w.Write(data)
}

// handleImportOPML accepts a multipart upload in field "opml" or a raw body.
func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(http.MaxBytesReader(w, r.Body, MaxImportBytes))
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, _, err := r.FormFile("opml")
		if err != nil {
			s.writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "no file provided", err))
			return
		}
		defer file.Close()
		body = file
	}

	res, err := opml.Import(r.Context(), s.db, body)
	if err != nil && apperrors.Code(err) == "" {
		err = apperrors.Wrap(apperrors.ErrInvalid, "import opml", err)
	}
	s.respond(w, res, err)
}

// --- Settings ---

func (s *Server) handleGetAppSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.db.GetAppSettings(r.Context())
	s.respond(w, settings, err)
}

func (s *Server) handleSaveAppSettings(w http.ResponseWriter, r *http.Request) {
	settings := model.DefaultAppSettings()
	if !s.decode(w, r, &settings) {
		return
	}
	if err := s.db.SaveAppSettings(r.Context(), settings); err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, settings, nil)
}

func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	raw, err := s.db.GetSettingRaw(r.Context(), key)
	if err == nil && raw == nil {
		err = apperrors.New(apperrors.ErrNotFound, "setting "+key+" is not set")
	}
	if err == nil && !json.Valid(raw) {
		err = apperrors.New(apperrors.ErrQuery, "setting "+key+" holds malformed JSON")
	}
	s.respond(w, raw, err)
}

func (s *Server) handleSetSetting(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if !s.decode(w, r, &value) {
		return
	}
	s.respondEmpty(w, s.db.SetSetting(r.Context(), chi.URLParam(r, "key"), value))
}

func (s *Server) handleGetTimer(w http.ResponseWriter, r *http.Request) {
	state, err := s.db.GetTimerState(r.Context())
	s.respond(w, state, err)
}

func (s *Server) handleSaveTimer(w http.ResponseWriter, r *http.Request) {
	var state model.TimerState
	if !s.decode(w, r, &state) {
		return
	}
	if err := s.db.SaveTimerState(r.Context(), state); err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, state, nil)
}

// --- Database ---

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.db.Status(), nil)
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Flush(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, s.db.Status(), nil)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.db.Export(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	name := BackupFileName(s.now())
	w.Header().Set("Content-Type", "application/vnd.sqlite3")
	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImportBytes))
	if err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "read snapshot", err))
		return
	}
	if err := s.db.Import(r.Context(), data); err != nil {
		s.writeError(w, err)
		return
	}
	s.respond(w, s.db.Status(), nil)
}

// BackupFileName names an exported snapshot taken at t.
func BackupFileName(t time.Time) string {
	return "tabink-backup-" + t.UTC().Format("2006-01-02T15-04-05") + ".db"
}

// --- Helpers ---

// idFor returns the id from the URL, or the body id, or a new one, along
// with the status code for the response.
func idFor(r *http.Request, bodyID string) (string, int) {
	if id := chi.URLParam(r, "id"); id != "" {
		return id, http.StatusOK
	}
	if bodyID != "" {
		return bodyID, http.StatusCreated
	}
	return uuid.Must(uuid.NewV7()).String(), http.StatusCreated
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, v any, err error) {
	s.respondStatus(w, http.StatusOK, v, err)
}

func (s *Server) respondStatus(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encoding response failed", "error", err)
	}
}

func (s *Server) respondEmpty(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch apperrors.Code(err) {
	case apperrors.ErrInvalid, apperrors.ErrImportFailed:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrQuery:
		if strings.Contains(err.Error(), "constraint failed") {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case apperrors.ErrNotReady, apperrors.ErrStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  string(apperrors.Code(err)),
	})
}
