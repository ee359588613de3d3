package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi"
	"github.com/go-chi/valve"
	"go.uber.org/zap"

	"github.com/bizflycloud/mqttcd/pkg/agentversion"
	"github.com/bizflycloud/mqttcd/pkg/session"
)

const shutdownTimeout = 5 * time.Second

// StatusProvider reports the state of the running session.
type StatusProvider interface {
	Status() session.Status
}

// Server exposes the session status over HTTP, on a unix socket or a TCP address.
type Server struct {
	Addr        string
	router      *chi.Mux
	status      StatusProvider
	useUnixSock bool

	logger *zap.Logger
}

type statusResponse struct {
	session.Status
	Since   string `json:"since"`
	Version string `json:"version"`
}

// New creates new server instance.
func New(opts ...Option) (*Server, error) {
	s := &Server{}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.Addr == "" {
		return nil, errors.New("no listening address provided")
	}
	if s.status == nil {
		return nil, errors.New("no status provider")
	}

	s.router = chi.NewRouter()

	if s.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		s.logger = l
	}

	s.setupRoutes()
	s.useUnixSock = strings.HasPrefix(s.Addr, "unix://")
	s.Addr = strings.TrimPrefix(s.Addr, "unix://")

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.Healthz)
	s.router.Get("/status", s.Status)
}

// Healthz answers 200 while the session is receiving and 503 otherwise.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := valve.Lever(r.Context()).Open(); err != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer valve.Lever(r.Context()).Close()

	st := s.status.Status()
	if st.State != session.StateReceiving {
		http.Error(w, string(st.State), http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

// Status writes the session counters as JSON.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	if err := valve.Lever(r.Context()).Open(); err != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer valve.Lever(r.Context()).Close()

	st := s.status.Status()
	resp := statusResponse{
		Status:  st,
		Since:   humanize.Time(st.StartedAt),
		Version: agentversion.Version(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("Write status response", zap.Error(err))
	}
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	// Graceful valve shut-off package to manage code preemption and shutdown signaling.
	valv := valve.New()
	baseCtx := valv.Context()

	srv := http.Server{Handler: chi.ServerBaseContext(baseCtx, s.router)}

	ln, err := s.listen()
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("Status server listening", zap.String("addr", s.Addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Debug("Status server shutting down")
	if err := valv.Shutdown(shutdownTimeout); err != nil {
		s.logger.Error("failed to shutdown valv", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("failed to shutdown http server", zap.Error(err))
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	if !s.useUnixSock {
		return net.Listen("tcp", s.Addr)
	}
	// a stale socket from a previous run blocks the bind
	if err := os.Remove(s.Addr); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return net.Listen("unix", s.Addr)
}
