package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/example/class-scheduler/internal/auth"
	"github.com/example/class-scheduler/internal/booking"
	"github.com/example/class-scheduler/internal/dispatch"
	"github.com/example/class-scheduler/internal/internaltypes"
	"github.com/example/class-scheduler/internal/metrics"
)

const maxBatch = 100

type Server struct {
	Auth       *auth.Store
	Booking    *booking.Service
	Resolver   *dispatch.Resolver
	Canceller  *dispatch.Canceller
	AutoCancel *dispatch.AutoCanceller
	Metrics    *metrics.Metrics
	Log        *zap.Logger

	// LookupTimeout bounds status reads.
	LookupTimeout time.Duration
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", s.Metrics.Handler())

	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)

	authed := func(h http.HandlerFunc) http.Handler { return s.Auth.RequireAuth(h) }
	mux.Handle("POST /api/jobs", authed(s.handleCreate))
	mux.Handle("GET /api/jobs", authed(s.handleList))
	mux.Handle("GET /api/jobs/{sessionId}", authed(s.handleStatus))
	mux.Handle("POST /api/jobs/status", authed(s.handleBatchStatus))
	mux.Handle("DELETE /api/jobs/{sessionId}", authed(s.handleCancel))
	mux.Handle("POST /api/jobs/auto-cancel", authed(s.handleAutoCancel))

	return s.observe(mux)
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

type credentialsForm struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in credentialsForm
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, internaltypes.Validation("invalid form"))
			return
		}
		in.Username, in.Password = r.FormValue("username"), r.FormValue("password")
	} else if !s.decode(w, r, &in) {
		return
	}
	id, err := s.Auth.Authenticate(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.Auth.SetSession(w, r, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"userId": id})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var req booking.Request
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Booking.Book(r.Context(), uid, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	ctx, cancel := s.lookupCtx(r)
	defer cancel()
	sts, err := s.Resolver.List(ctx, uid)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": sts})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	ctx, cancel := s.lookupCtx(r)
	defer cancel()
	st, err := s.Resolver.Resolve(ctx, uid, r.PathValue("sessionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var in struct {
		SessionIDs []string `json:"sessionIds"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	if len(in.SessionIDs) == 0 || len(in.SessionIDs) > maxBatch {
		s.writeError(w, r, internaltypes.Validation("sessionIds must hold between 1 and %d ids", maxBatch))
		return
	}
	ctx, cancel := s.lookupCtx(r)
	defer cancel()
	s.writeJSON(w, http.StatusOK, map[string]any{"results": s.Resolver.ResolveBatch(ctx, uid, in.SessionIDs)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	out, err := s.Canceller.Cancel(r.Context(), uid, r.PathValue("sessionId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAutoCancel(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	var in struct {
		Sessions []dispatch.Session `json:"sessions"`
	}
	if !s.decode(w, r, &in) {
		return
	}
	if len(in.Sessions) > maxBatch {
		s.writeError(w, r, internaltypes.Validation("at most %d sessions per request", maxBatch))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"results": s.AutoCancel.Run(r.Context(), uid, in.Sessions)})
}

func (s *Server) lookupCtx(r *http.Request) (context.Context, context.CancelFunc) {
	if s.LookupTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.LookupTimeout)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, internaltypes.Wrap(internaltypes.KindValidation, err, "invalid JSON body"))
		return false
	}
	return true
}

type errorBody struct {
	Error     internaltypes.Kind `json:"error"`
	Message   string             `json:"message"`
	Hint      string             `json:"hint,omitempty"`
	Retryable bool               `json:"retryable"`
	Attempts  int                `json:"attempts,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := internaltypes.KindOf(err)
	status := internaltypes.HTTPStatus(kind)
	body := errorBody{
		Error:     kind,
		Message:   err.Error(),
		Hint:      internaltypes.Hint(err),
		Retryable: internaltypes.Retryable(kind),
		Attempts:  internaltypes.AttemptsOf(err),
	}
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.String("kind", string(kind)),
		zap.Error(err),
	}
	switch {
	case status >= 500:
		if kind == internaltypes.KindInternal {
			body.Message = "internal error"
		}
		s.logger().Error("request failed", fields...)
	case kind == internaltypes.KindUnauthorized:
		body.Message = "invalid username or password"
	default:
		s.logger().Debug("request rejected", fields...)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger().Warn("write response", zap.Error(err))
	}
}

func Start(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
