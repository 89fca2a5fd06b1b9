package leaders

import (
    "encoding/json"
    "fmt"
    "sort"
    "sync"

    le "github.com/amirimatin/go-leaderelection/pkg/leaderelection"
    base "github.com/amirimatin/go-leaderelection/pkg/state"
)

const snapshotVersion = 1

// State is an in-memory table of published leader information.
type State struct {
    mu      sync.RWMutex
    entries map[string]le.LeaderInformation
}

func New() *State { return &State{entries: make(map[string]le.LeaderInformation)} }

// ApplyPut stores info for componentID; an empty info removes the entry.
func (s *State) ApplyPut(componentID string, info le.LeaderInformation) error {
    if componentID == "" { return fmt.Errorf("state: empty component id") }
    s.mu.Lock(); defer s.mu.Unlock()
    if info.IsEmpty() {
        delete(s.entries, componentID)
        return nil
    }
    s.entries[componentID] = info
    return nil
}

func (s *State) ApplyRemove(componentID string) error {
    if componentID == "" { return fmt.Errorf("state: empty component id") }
    s.mu.Lock(); defer s.mu.Unlock()
    delete(s.entries, componentID)
    return nil
}

func (s *State) Get(componentID string) (le.LeaderInformation, bool) {
    s.mu.RLock(); defer s.mu.RUnlock()
    li, ok := s.entries[componentID]
    return li, ok
}

// All returns every entry sorted by component id.
func (s *State) All() []le.LeaderInformationWithComponentID {
    s.mu.RLock(); defer s.mu.RUnlock()
    return s.sortedLocked()
}

func (s *State) sortedLocked() []le.LeaderInformationWithComponentID {
    arr := make([]le.LeaderInformationWithComponentID, 0, len(s.entries))
    for id, li := range s.entries {
        arr = append(arr, le.LeaderInformationWithComponentID{ComponentID: id, Information: li})
    }
    sort.Slice(arr, func(i, j int) bool { return arr[i].ComponentID < arr[j].ComponentID })
    return arr
}

type snapshot struct {
    Version int                                   `json:"version"`
    Leaders []le.LeaderInformationWithComponentID `json:"leaders"`
}

// Snapshot encodes the table as stable JSON.
func (s *State) Snapshot() ([]byte, error) {
    s.mu.RLock(); defer s.mu.RUnlock()
    return json.Marshal(snapshot{Version: snapshotVersion, Leaders: s.sortedLocked()})
}

func (s *State) Restore(buf []byte) error {
    var snap snapshot
    if err := json.Unmarshal(buf, &snap); err != nil {
        return err
    }
    if snap.Version != snapshotVersion {
        return fmt.Errorf("state: unsupported snapshot version %d", snap.Version)
    }
    s.mu.Lock(); defer s.mu.Unlock()
    s.entries = make(map[string]le.LeaderInformation, len(snap.Leaders))
    for _, e := range snap.Leaders {
        if e.ComponentID == "" || e.Information.IsEmpty() { continue }
        s.entries[e.ComponentID] = e.Information
    }
    return nil
}

var _ base.LeaderInformationState = (*State)(nil)
