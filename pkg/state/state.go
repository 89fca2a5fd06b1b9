package state

import le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"

// LeaderInformationState is the replicated table of published leader
// information, one entry per component.
type LeaderInformationState interface {
    ApplyPut(componentID string, info le.LeaderInformation) error
    ApplyRemove(componentID string) error
    Get(componentID string) (le.LeaderInformation, bool)
    All() []le.LeaderInformationWithComponentID
    Snapshot() ([]byte, error)
    Restore(buf []byte) error
}
