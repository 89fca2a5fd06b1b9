package leaderelection

import "github.com/google/uuid"

// DriverListener is implemented by the multiplexing service and called by a
// Driver from any goroutine. Implementations never block.
type DriverListener interface {
    // OnGrantLeadership signals that the backend granted this process a
    // leadership session.
    OnGrantLeadership(sessionID uuid.UUID)
    // OnRevokeLeadership signals that the current session ended.
    OnRevokeLeadership()
    // OnAllKnownLeaderInformation carries the backend's full view of
    // published leader information.
    OnAllKnownLeaderInformation(entries []LeaderInformationWithComponentID)
    // OnError reports an unrecoverable backend failure.
    OnError(err error)
}

// Driver is one coordination backend connection shared by all components.
type Driver interface {
    // PublishLeaderInformation hands a write to the backend. It must not wait
    // for the backend to acknowledge it; asynchronous failures are the
    // driver's to log.
    PublishLeaderInformation(componentID string, info LeaderInformation) error
    // DeleteLeaderInformation removes the component's published entry.
    DeleteLeaderInformation(componentID string) error
    HasLeadership() bool
    // Close detaches the listener. No listener calls happen after it returns.
    Close() error
}

// DriverFactory connects a listener to a coordination backend.
type DriverFactory interface {
    CreateDriver(listener DriverListener) (Driver, error)
}

// DriverFactoryFunc adapts a function to DriverFactory.
type DriverFactoryFunc func(listener DriverListener) (Driver, error)

func (f DriverFactoryFunc) CreateDriver(listener DriverListener) (Driver, error) { return f(listener) }
