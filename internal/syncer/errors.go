package syncer

import "errors"

// ErrRetryExceeded is returned when the local-mirror loop exhausts its
// 100-iteration safety ceiling without reaching a clean, quiescent state.
var ErrRetryExceeded = errors.New("syncer: could not achieve a consistent local sync state after 100 retries")

// ErrPeerNotFresh means a peer's freshness check vetoed replication: the
// peer has observed local changes not yet reconciled with its last
// successful sync from this node.
var ErrPeerNotFresh = errors.New("syncer: peer has unreconciled local changes")

// ErrMirrorFailed means the local mirror/verify primitive reported a
// failure (non-zero exit, or the post-mirror equality check failed).
var ErrMirrorFailed = errors.New("syncer: local mirror failed")

// ErrDistributeFailed means the group-replication primitive exited
// non-zero during the Distribute stage.
var ErrDistributeFailed = errors.New("syncer: distribute failed")
