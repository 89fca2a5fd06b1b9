package httpjson

import (
    "context"
    "errors"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync/atomic"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    "github.com/amirimatin/go-leaderelection/pkg/transport"
)

func testHandlers() transport.Handlers {
    session := le.Known(uuid.New(), "http://a:1")
    return transport.Handlers{
        Status: func(context.Context) ([]byte, error) { return []byte(`{"id":"n1"}`), nil },
        Leader: func(_ context.Context, req transport.LeaderRequest) (transport.LeaderResponse, error) {
            all := []le.LeaderInformationWithComponentID{{ComponentID: "dispatcher", Information: session}}
            if req.ComponentID != "" && req.ComponentID != "dispatcher" {
                all = nil
            }
            return transport.LeaderResponse{Node: "n1", Components: all}, nil
        },
        Join: func(_ context.Context, req transport.JoinRequest) (transport.JoinResponse, error) {
            if req.ID == "" {
                return transport.JoinResponse{Leader: "n1"}, errors.New("empty id")
            }
            return transport.JoinResponse{Accepted: true}, nil
        },
        Leave: func(_ context.Context, req transport.LeaveRequest) (transport.LeaveResponse, error) {
            return transport.LeaveResponse{Accepted: req.ID == "n2"}, nil
        },
    }
}

func TestClientServer_RoundTrip(t *testing.T) {
    ts := httptest.NewServer(Handler(testHandlers()))
    defer ts.Close()
    addr := strings.TrimPrefix(ts.URL, "http://")
    c := NewClient(time.Second)
    defer c.Close()
    ctx := context.Background()

    b, err := c.GetStatus(ctx, addr)
    require.NoError(t, err)
    assert.JSONEq(t, `{"id":"n1"}`, string(b))

    lr, err := c.GetLeader(ctx, addr, transport.LeaderRequest{ComponentID: "dispatcher"})
    require.NoError(t, err)
    assert.Equal(t, "n1", lr.Node)
    require.Len(t, lr.Components, 1)
    assert.Equal(t, "http://a:1", lr.Components[0].Information.Address())

    lr, err = c.GetLeader(ctx, addr, transport.LeaderRequest{ComponentID: "other"})
    require.NoError(t, err)
    assert.Empty(t, lr.Components)

    jr, err := c.PostJoin(ctx, addr, transport.JoinRequest{ID: "n2", RaftAddr: "127.0.0.1:9000"})
    require.NoError(t, err)
    assert.True(t, jr.Accepted)

    lv, err := c.PostLeave(ctx, addr, transport.LeaveRequest{ID: "n2"})
    require.NoError(t, err)
    assert.True(t, lv.Accepted)
}

func TestClient_JoinErrorCarriesLeaderHint(t *testing.T) {
    ts := httptest.NewServer(Handler(testHandlers()))
    defer ts.Close()
    c := NewClient(time.Second)
    jr, err := c.PostJoin(context.Background(), strings.TrimPrefix(ts.URL, "http://"), transport.JoinRequest{})
    require.EqualError(t, err, "empty id")
    assert.Equal(t, "n1", jr.Leader)
}

func TestHandler_MethodsAndUnsupported(t *testing.T) {
    h := Handler(transport.Handlers{})

    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
    assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/leader", nil))
    assert.Equal(t, http.StatusNotImplemented, rec.Code)

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.Equal(t, "ok", rec.Body.String())

    rec = httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
    assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_BadJoinBody(t *testing.T) {
    h := Handler(testHandlers())
    rec := httptest.NewRecorder()
    h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/join", strings.NewReader("{")))
    assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClient_RetriesServerErrors(t *testing.T) {
    var calls atomic.Int32
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if calls.Add(1) < 3 {
            http.Error(w, "busy", http.StatusServiceUnavailable)
            return
        }
        _, _ = w.Write([]byte(`{}`))
    }))
    defer ts.Close()
    _, err := NewClient(time.Second).GetStatus(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
    require.NoError(t, err)
    assert.Equal(t, int32(3), calls.Load())
}

func TestClient_NoRetryOnClientError(t *testing.T) {
    var calls atomic.Int32
    ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        calls.Add(1)
        http.Error(w, "nope", http.StatusNotFound)
    }))
    defer ts.Close()
    _, err := NewClient(time.Second).GetStatus(context.Background(), strings.TrimPrefix(ts.URL, "http://"))
    require.Error(t, err)
    assert.Equal(t, int32(1), calls.Load())
}

func TestServer_StartStop(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    s := NewServer("127.0.0.1:0", hclog.NewNullLogger())
    require.NoError(t, s.Start(ctx, testHandlers()))
    require.Error(t, s.Start(ctx, testHandlers()))
    addr := s.Addr()
    assert.NotEqual(t, "127.0.0.1:0", addr)

    b, err := NewClient(time.Second).GetStatus(ctx, addr)
    require.NoError(t, err)
    assert.Contains(t, string(b), "n1")
    require.NoError(t, s.Stop(context.Background()))
    require.NoError(t, s.Stop(context.Background()))
}
