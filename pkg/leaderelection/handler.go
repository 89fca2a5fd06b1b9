package leaderelection

import (
    "github.com/google/uuid"
    "github.com/hashicorp/go-hclog"
)

// EventHandler receives leadership events for one registered component.
// Calls for a single handler never overlap and arrive in the order the
// service accepted the corresponding events.
type EventHandler interface {
    OnGrantLeadership(sessionID uuid.UUID)
    OnRevokeLeadership()
    OnLeaderInformationChange(info LeaderInformation)
}

// FatalErrorHandler receives unrecoverable errors such as protocol
// violations by the coordination backend.
type FatalErrorHandler interface {
    ReportFatalError(err error)
}

// FatalErrorHandlerFunc adapts a function to FatalErrorHandler.
type FatalErrorHandlerFunc func(err error)

func (f FatalErrorHandlerFunc) ReportFatalError(err error) { f(err) }

// LoggingFatalErrorHandler logs fatal errors and takes no further action.
func LoggingFatalErrorHandler(l hclog.Logger) FatalErrorHandler {
    return FatalErrorHandlerFunc(func(err error) {
        l.Error("fatal leader election error", "error", err)
    })
}
