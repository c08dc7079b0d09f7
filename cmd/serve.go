package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobs-etl/internal/enrich"
	"github.com/sells-group/jobs-etl/internal/fetcher"
	"github.com/sells-group/jobs-etl/internal/model"
	"github.com/sells-group/jobs-etl/internal/ranking"
	"github.com/sells-group/jobs-etl/internal/store"
)

// maxBatchBody caps a batch posted to /v1/merge.
const maxBatchBody = 64 << 20

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		a, err := newApp(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newRouter(a),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// server exposes the pipeline stages over HTTP. Each operation runs at most
// once at a time; a concurrent trigger gets 409.
type server struct {
	app  *app
	busy map[model.Operation]*sync.Mutex
}

func newRouter(a *app) http.Handler {
	s := &server{
		app: a,
		busy: map[model.Operation]*sync.Mutex{
			model.OpMerge:  {},
			model.OpEnrich: {},
			model.OpRank:   {},
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/merge", s.handleMerge)
		r.Post("/enrich", s.handleEnrich)
		r.Post("/rank", s.handleRank)
		r.Get("/runs", s.handleRuns)
	})
	return r
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps a run error to an HTTP status.
func statusFor(err error) int {
	var ce *model.ConfigurationError
	if errors.As(err, &ce) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// runResponse carries a summary alongside the error that stopped the run.
type runResponse struct {
	Summary *model.RunSummary     `json:"summary,omitempty"`
	Top     []model.RankedPosting `json:"top,omitempty"`
	Error   string                `json:"error,omitempty"`
}

func (s *server) writeRun(w http.ResponseWriter, resp runResponse, err error) {
	if err != nil {
		resp.Error = err.Error()
		writeJSONStatus(w, statusFor(err), resp)
		return
	}
	writeJSONStatus(w, http.StatusOK, resp)
}

// acquire claims op, writing 409 when a run is already in flight.
func (s *server) acquire(w http.ResponseWriter, op model.Operation) (release func(), ok bool) {
	mu := s.busy[op]
	if !mu.TryLock() {
		writeError(w, http.StatusConflict, eris.Errorf("%s run already in progress", op))
		return nil, false
	}
	return mu.Unlock, true
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSONStatus(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMerge merges the request body. The format comes from the format
// query parameter, then the Content-Type, then config.
func (s *server) handleMerge(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" && strings.Contains(r.Header.Get("Content-Type"), "csv") {
		name = "csv"
	}
	if name == "" {
		name = s.app.cfg.Merge.Format
	}
	format, err := fetcher.ParseFormat(name, "")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

	release, ok := s.acquire(w, model.OpMerge)
	if !ok {
		return
	}
	defer release()

	body := http.MaxBytesReader(w, r.Body, maxBatchBody)
	summary, err := s.app.mergeReader(r.Context(), body, format, dryRun)
	if summary == nil && err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeRun(w, runResponse{Summary: summary}, err)
}

type enrichRequest struct {
	Limit        int  `json:"limit"`
	DryRun       bool `json:"dry_run"`
	Retaxonomize bool `json:"retaxonomize"`
	Seniority    bool `json:"seniority"`
	Skills       bool `json:"skills"`
	Companies    bool `json:"companies"`
}

// decodeOptional decodes a JSON body into v, accepting an empty body.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return eris.Wrap(err, "invalid request body")
}

func (s *server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Seniority && !req.Skills && !req.Companies {
		req.Seniority, req.Skills, req.Companies = true, true, true
	}

	release, ok := s.acquire(w, model.OpEnrich)
	if !ok {
		return
	}
	defer release()

	summary, err := s.app.enrich(r.Context(), enrich.RunOptions{
		Limit:        req.Limit,
		Seniority:    req.Seniority,
		Skills:       req.Skills,
		Companies:    req.Companies,
		DryRun:       req.DryRun,
		Retaxonomize: req.Retaxonomize,
	})
	s.writeRun(w, runResponse{Summary: summary}, err)
}

type rankRequest struct {
	All    bool `json:"all"`
	Limit  int  `json:"limit"`
	DryRun bool `json:"dry_run"`
	Top    int  `json:"top"`
}

func (s *server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	release, ok := s.acquire(w, model.OpRank)
	if !ok {
		return
	}
	defer release()

	summary, ranked, err := s.app.rank(r.Context(), ranking.RankOptions{
		Limit:        req.Limit,
		OnlyUnranked: !req.All,
		DryRun:       req.DryRun,
	})
	resp := runResponse{Summary: summary}
	if req.Top > 0 {
		resp.Top = ranking.Top(ranked, req.Top)
	}
	s.writeRun(w, resp, err)
}

func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	runs, err := s.app.store.ListRuns(r.Context(), store.RunFilter{
		Operation: model.Operation(q.Get("operation")),
		Status:    model.RunStatus(q.Get("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []model.RunSummary{}
	}
	writeJSONStatus(w, http.StatusOK, runs)
}
