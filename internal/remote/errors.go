package remote

import "errors"

// ErrPeerTransport means the remote command could not be executed at all
// (ssh failure, host unreachable, helper binary missing) as distinct from
// the peer rejecting the request.
var ErrPeerTransport = errors.New("remote: transport failure reaching peer")

// ErrCommitFailed means the peer's helper ran but the commit step itself
// failed (for example the staging tree was missing or the rename failed).
var ErrCommitFailed = errors.New("remote: peer commit failed")
