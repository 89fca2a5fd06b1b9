package leaderelection_test

import (
    "sync"
    "testing"
    "time"

    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
    "github.com/stretchr/testify/require"

    "github.com/amirimatin/go-leaderelection/pkg/driver/memory"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
)

const (
    waitFor = 2 * time.Second
    tick    = 5 * time.Millisecond
)

type eventKind string

const (
    evGrant  eventKind = "grant"
    evRevoke eventKind = "revoke"
    evInfo   eventKind = "info"
)

type event struct {
    kind    eventKind
    session uuid.UUID
    info    le.LeaderInformation
}

// testHandler records callbacks and mirrors hasLeadership/leader info the way
// a component would. When gate is set every callback waits on it first.
type testHandler struct {
    gate    chan struct{}
    entered chan eventKind
    onGrant func()

    mu      sync.Mutex
    events  []event
    leader  bool
    session uuid.UUID
    info    *le.LeaderInformation
}

func newTestHandler() *testHandler { return &testHandler{} }

func newBlockingHandler() *testHandler {
    return &testHandler{gate: make(chan struct{}), entered: make(chan eventKind, 16)}
}

func (h *testHandler) wait(kind eventKind) {
    if h.entered != nil {
        h.entered <- kind
    }
    if h.gate != nil {
        <-h.gate
    }
}

func (h *testHandler) OnGrantLeadership(sessionID uuid.UUID) {
    h.wait(evGrant)
    h.mu.Lock()
    h.events = append(h.events, event{kind: evGrant, session: sessionID})
    h.leader = true
    h.session = sessionID
    cb := h.onGrant
    h.mu.Unlock()
    if cb != nil {
        cb()
    }
}

func (h *testHandler) OnRevokeLeadership() {
    h.wait(evRevoke)
    h.mu.Lock()
    defer h.mu.Unlock()
    h.events = append(h.events, event{kind: evRevoke})
    h.leader = false
    h.info = nil
}

func (h *testHandler) OnLeaderInformationChange(info le.LeaderInformation) {
    h.wait(evInfo)
    h.mu.Lock()
    defer h.mu.Unlock()
    h.events = append(h.events, event{kind: evInfo, info: info})
    h.info = &info
}

func (h *testHandler) hasLeadership() bool {
    h.mu.Lock()
    defer h.mu.Unlock()
    return h.leader
}

func (h *testHandler) leaderInformation() (le.LeaderInformation, bool) {
    h.mu.Lock()
    defer h.mu.Unlock()
    if h.info == nil {
        return le.Empty(), false
    }
    return *h.info, true
}

func (h *testHandler) recorded() []event {
    h.mu.Lock()
    defer h.mu.Unlock()
    return append([]event(nil), h.events...)
}

func (h *testHandler) count(kind eventKind) int {
    n := 0
    for _, e := range h.recorded() {
        if e.kind == kind {
            n++
        }
    }
    return n
}

func (h *testHandler) grants() []uuid.UUID {
    var out []uuid.UUID
    for _, e := range h.recorded() {
        if e.kind == evGrant {
            out = append(out, e.session)
        }
    }
    return out
}

type fixture struct {
    driver *memory.Driver
    svc    *le.Service
    fatal  chan error
}

func newFixture(t *testing.T, opts ...memory.Option) *fixture {
    t.Helper()
    f := &fixture{driver: memory.New(opts...), fatal: make(chan error, 16)}
    svc, err := le.NewService(f.driver, le.Options{
        Logger:            hclog.NewNullLogger(),
        FatalErrorHandler: le.FatalErrorHandlerFunc(func(err error) { f.fatal <- err }),
    })
    require.NoError(t, err)
    f.svc = svc
    t.Cleanup(func() { _ = svc.Close() })
    return f
}

func (f *fixture) register(t *testing.T, id string) *testHandler {
    t.Helper()
    h := newTestHandler()
    require.NoError(t, f.svc.Register(id, h))
    return h
}

func awaitGrants(t *testing.T, h *testHandler, n int) {
    t.Helper()
    require.Eventually(t, func() bool { return h.count(evGrant) == n }, waitFor, tick)
}

func awaitInfo(t *testing.T, h *testHandler, want le.LeaderInformation) {
    t.Helper()
    require.Eventually(t, func() bool {
        got, ok := h.leaderInformation()
        return ok && got == want
    }, waitFor, tick)
}
