package consensus

import le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"

// LeaderInfo describes the consensus-level leader node (not a component).
type LeaderInfo struct {
    ID   string `json:"id"`
    Addr string `json:"addr"`
    Term uint64 `json:"term"`
}

// LeaderNotifier is optionally provided by a Consensus implementation. The
// channel is buffered and lossy; consumers should treat every value as the
// latest known leader.
type LeaderNotifier interface {
    LeaderCh() <-chan LeaderInfo
}

// LeaderInformationReader exposes the replicated component leader table on
// any node, leader or follower.
type LeaderInformationReader interface {
    LeaderInformation(componentID string) (le.LeaderInformation, bool)
    AllLeaderInformation() []le.LeaderInformationWithComponentID
}
