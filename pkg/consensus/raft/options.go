package raftcons

import (
    "fmt"
    "time"

    "github.com/hashicorp/go-hclog"
)

// Options configure the Raft-based coordination backend.
type Options struct {
    NodeID string
    Logger hclog.Logger

    // Bootstrap forms a single-node cluster on Start when true.
    Bootstrap bool

    // Timeouts (optional). Zero means defaults.
    HeartbeatTimeout time.Duration
    ElectionTimeout  time.Duration
    CommitTimeout    time.Duration
    ApplyTimeout     time.Duration // wait for leader information writes

    // BindAddr selects a TCP transport bound to this address (e.g.
    // "127.0.0.1:0"). Empty means an in-memory transport.
    BindAddr string

    // DataDir selects on-disk stores when non-empty (bolt store for log/stable,
    // file snapshot store). When empty, in-memory stores are used.
    DataDir string

    // SnapshotsRetained controls how many snapshots to retain on disk.
    SnapshotsRetained int
}

func (o *Options) Validate() error {
    if o.NodeID == "" {
        return fmt.Errorf("raftcons: empty NodeID")
    }
    if o.HeartbeatTimeout < 0 || o.ElectionTimeout < 0 || o.CommitTimeout < 0 || o.ApplyTimeout < 0 {
        return fmt.Errorf("raftcons: negative timeout")
    }
    if o.ApplyTimeout == 0 {
        o.ApplyTimeout = 5 * time.Second
    }
    if o.DataDir != "" && o.SnapshotsRetained == 0 {
        o.SnapshotsRetained = 2
    }
    return nil
}
