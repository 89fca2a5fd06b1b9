package leaderelection

import (
    "encoding/json"
    "fmt"

    "github.com/google/uuid"
)

// LeaderInformation describes who leads a component: a session id and the
// address under which the leader can be reached. It is either empty or fully
// known; the zero value is empty.
type LeaderInformation struct {
    known     bool
    sessionID uuid.UUID
    address   string
}

// Empty returns the "no known leader" value.
func Empty() LeaderInformation { return LeaderInformation{} }

// Known returns leader information for the given session and address.
func Known(sessionID uuid.UUID, address string) LeaderInformation {
    return LeaderInformation{known: true, sessionID: sessionID, address: address}
}

func (li LeaderInformation) IsEmpty() bool        { return !li.known }
func (li LeaderInformation) SessionID() uuid.UUID { return li.sessionID }
func (li LeaderInformation) Address() string      { return li.address }

// Equal reports structural equality; identical to ==.
func (li LeaderInformation) Equal(other LeaderInformation) bool { return li == other }

func (li LeaderInformation) String() string {
    if !li.known {
        return "LeaderInformation{empty}"
    }
    return fmt.Sprintf("LeaderInformation{session=%s, address=%s}", li.sessionID, li.address)
}

type leaderInformationJSON struct {
    SessionID *uuid.UUID `json:"sessionId,omitempty"`
    Address   string     `json:"address,omitempty"`
}

func (li LeaderInformation) MarshalJSON() ([]byte, error) {
    if !li.known {
        return []byte("{}"), nil
    }
    id := li.sessionID
    return json.Marshal(leaderInformationJSON{SessionID: &id, Address: li.address})
}

func (li *LeaderInformation) UnmarshalJSON(data []byte) error {
    var v leaderInformationJSON
    if err := json.Unmarshal(data, &v); err != nil {
        return err
    }
    if v.SessionID == nil {
        if v.Address != "" {
            return fmt.Errorf("leaderelection: address %q without session id", v.Address)
        }
        *li = Empty()
        return nil
    }
    *li = Known(*v.SessionID, v.Address)
    return nil
}

// LeaderInformationWithComponentID pairs a component with its leader
// information. Used for bulk reconciliation with the coordination backend.
type LeaderInformationWithComponentID struct {
    ComponentID string            `json:"componentId"`
    Information LeaderInformation `json:"information"`
}
