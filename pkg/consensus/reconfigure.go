package consensus

import "time"

// Reconfigurer adds and removes voting servers at runtime.
type Reconfigurer interface {
    AddVoter(id, addr string, timeout time.Duration) error
    RemoveServer(id string, timeout time.Duration) error
    // Servers lists the current voter ids.
    Servers() ([]string, error)
}
