// muxdemo runs the leader election service in process over the memory
// driver and toggles leadership so the per-component callbacks can be watched.
package main

import (
    "context"
    "flag"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/google/uuid"

    dStatic "github.com/amirimatin/go-leaderelection/pkg/discovery/static"
    "github.com/amirimatin/go-leaderelection/pkg/driver/memory"
    "github.com/amirimatin/go-leaderelection/internal/logutil"
    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
)

type printer struct {
    e *le.ComponentElection
}

func (p *printer) GrantLeadership(sessionID uuid.UUID) {
    fmt.Printf("%-10s granted  session=%s\n", p.e.ComponentID(), sessionID)
    _ = p.e.ConfirmLeadership(sessionID, "muxdemo/"+p.e.ComponentID())
}

func (p *printer) RevokeLeadership() {
    fmt.Printf("%-10s revoked\n", p.e.ComponentID())
}

func main() {
    var (
        components = flag.String("components", "rest,dispatcher,resources", "comma-separated component ids")
        period     = flag.Duration("period", 3*time.Second, "interval between leadership changes")
    )
    flag.Parse()

    log := logutil.New("muxdemo")
    ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer cancel()

    backend := memory.New(memory.WithEcho())
    svc, err := le.NewService(backend, le.Options{
        Logger: log,
        FatalErrorHandler: le.FatalErrorHandlerFunc(func(err error) {
            log.Error("fatal error", "error", err)
            cancel()
        }),
    })
    if err != nil {
        log.Error("creating service failed", "error", err)
        os.Exit(1)
    }
    defer svc.Close()

    for _, id := range dStatic.Parse(*components) {
        e := le.NewComponentElection(svc, id)
        if err := e.Start(&printer{e: e}); err != nil {
            log.Error("registering component failed", "component", id, "error", err)
            os.Exit(1)
        }
        defer e.Close()
    }

    t := time.NewTicker(*period)
    defer t.Stop()
    backend.GrantLeadership()
    for {
        select {
        case <-ctx.Done():
            return
        case <-t.C:
        }
        if backend.HasLeadership() {
            for _, e := range backend.Entries() {
                fmt.Printf("%-10s published session=%s address=%s\n", e.ComponentID, e.Information.SessionID(), e.Information.Address())
            }
            backend.RevokeLeadership()
        } else {
            backend.GrantLeadership()
        }
    }
}
