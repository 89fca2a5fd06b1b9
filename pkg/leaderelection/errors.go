package leaderelection

import "errors"

var (
    ErrAlreadyRegistered  = errors.New("leaderelection: component already registered")
    ErrInvalidComponent   = errors.New("leaderelection: empty component id or nil handler")
    ErrLeadershipConflict = errors.New("leaderelection: leadership granted with a different session while already granted")
    ErrServiceClosed      = errors.New("leaderelection: service closed")
    ErrNotLeader          = errors.New("leaderelection: leadership session is not current")
)
