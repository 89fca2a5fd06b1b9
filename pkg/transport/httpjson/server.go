// Package httpjson serves and calls the management API over HTTP/JSON.
package httpjson

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net"
    "net/http"
    "sync"
    "time"

    "github.com/hashicorp/go-hclog"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "go.opentelemetry.io/otel/attribute"

    "github.com/amirimatin/go-leaderelection/internal/logutil"
    "github.com/amirimatin/go-leaderelection/pkg/observability/tracing"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

// Server exposes /status, /leader, /join, /leave, /healthz and /metrics.
type Server struct {
    bind string
    log  hclog.Logger

    mu  sync.Mutex
    srv *http.Server
    ln  net.Listener
}

// NewServer binds to the given TCP address (e.g. ":17946") on Start.
func NewServer(bind string, logger hclog.Logger) *Server {
    return &Server{bind: bind, log: logutil.Named(logger, "http")}
}

// Handler builds the management mux. It is exported for httptest.
func Handler(h transport.Handlers) http.Handler {
    mux := http.NewServeMux()
    mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
        if !allow(w, r, http.MethodGet) { return }
        if h.Status == nil { http.Error(w, "status not supported", http.StatusNotImplemented); return }
        ctx, end := tracing.StartSpan(r.Context(), "http.status")
        defer end()
        data, err := h.Status(ctx)
        if err != nil {
            tracing.RecordError(ctx, err)
            http.Error(w, fmt.Sprintf("status error: %v", err), http.StatusInternalServerError)
            return
        }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write(data)
    })
    mux.HandleFunc("/leader", func(w http.ResponseWriter, r *http.Request) {
        if !allow(w, r, http.MethodGet) { return }
        if h.Leader == nil { http.Error(w, "leader lookup not supported", http.StatusNotImplemented); return }
        req := transport.LeaderRequest{ComponentID: r.URL.Query().Get("component")}
        ctx, end := tracing.StartSpan(r.Context(), "http.leader", attribute.String("component", req.ComponentID))
        defer end()
        resp, err := h.Leader(ctx, req)
        if err != nil {
            tracing.RecordError(ctx, err)
            http.Error(w, fmt.Sprintf("leader lookup error: %v", err), http.StatusInternalServerError)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
        if !allow(w, r, http.MethodPost) { return }
        if h.Join == nil { http.Error(w, "join not supported", http.StatusNotImplemented); return }
        var req transport.JoinRequest
        if !decode(w, r, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.join", attribute.String("id", req.ID))
        defer end()
        resp, err := h.Join(ctx, req)
        if err != nil {
            tracing.RecordError(ctx, err)
            if resp.Error == "" { resp.Error = err.Error() }
            writeJSON(w, http.StatusInternalServerError, resp)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("/leave", func(w http.ResponseWriter, r *http.Request) {
        if !allow(w, r, http.MethodPost) { return }
        if h.Leave == nil { http.Error(w, "leave not supported", http.StatusNotImplemented); return }
        var req transport.LeaveRequest
        if !decode(w, r, &req) { return }
        ctx, end := tracing.StartSpan(r.Context(), "http.leave", attribute.String("id", req.ID))
        defer end()
        resp, err := h.Leave(ctx, req)
        if err != nil {
            tracing.RecordError(ctx, err)
            if resp.Error == "" { resp.Error = err.Error() }
            writeJSON(w, http.StatusInternalServerError, resp)
            return
        }
        writeJSON(w, http.StatusOK, resp)
    })
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        if !allow(w, r, http.MethodGet) { return }
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.Handle("/metrics", promhttp.Handler())
    return mux
}

// Start listens and serves h until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context, h transport.Handlers) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.srv != nil {
        return errors.New("httpjson: server already started")
    }
    ln, err := net.Listen("tcp", s.bind)
    if err != nil {
        return err
    }
    srv := &http.Server{Handler: Handler(h), ReadHeaderTimeout: 5 * time.Second}
    s.srv, s.ln = srv, ln

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
            s.log.Error("server error", "error", err)
        }
    }()
    s.log.Info("management API listening", "addr", ln.Addr().String())
    return nil
}

func (s *Server) Addr() string {
    s.mu.Lock()
    defer s.mu.Unlock()
    if s.ln != nil {
        return s.ln.Addr().String()
    }
    return s.bind
}

// Stop shuts down gracefully, waiting at most two seconds.
func (s *Server) Stop(ctx context.Context) error {
    s.mu.Lock()
    srv := s.srv
    s.srv = nil
    s.mu.Unlock()
    if srv == nil {
        return nil
    }
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    return srv.Shutdown(c)
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
    if r.Method != method {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return false
    }
    return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
    if err := json.NewDecoder(r.Body).Decode(v); err != nil {
        http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
        return false
    }
    return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

var _ transport.RPCServer = (*Server)(nil)
