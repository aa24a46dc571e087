package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeClock lets pipeline tests control time.Now without real sleeping.
// Now() advances a monotonically increasing counter each call so that
// start_ts captures remain distinguishable across iterations; Sleep is a
// no-op so retry-loop tests run instantly.
type fakeClock struct {
	mu  sync.Mutex
	sec int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sec++
	return time.Unix(c.sec, 0)
}

func (c *fakeClock) Sleep(time.Duration) {}

// fakeMirror is an injectable Mirror. syncFunc, if set, is called with the
// 1-based call number and may mutate test state (e.g. inject pending
// paths) to simulate interference between mirror and verify.
type fakeMirror struct {
	mu          sync.Mutex
	calls       int32
	syncFunc    func(call int) error
	verifyEqual bool
	verifyErr   error
}

func (m *fakeMirror) Sync(ctx context.Context, src, dst string) error {
	n := int(atomic.AddInt32(&m.calls, 1))
	if m.syncFunc != nil {
		return m.syncFunc(n)
	}
	return nil
}

func (m *fakeMirror) Verify(ctx context.Context, src, dst string) (bool, error) {
	return m.verifyEqual, m.verifyErr
}

func (m *fakeMirror) callCount() int {
	return int(atomic.LoadInt32(&m.calls))
}

// fakeDistributor is an injectable Distributor.
type fakeDistributor struct {
	err   error
	calls int32
}

func (d *fakeDistributor) Distribute(ctx context.Context, groupName string) error {
	atomic.AddInt32(&d.calls, 1)
	return d.err
}

// fakeTransport is an injectable remote.Transport for freshness/commit tests.
type fakeTransport struct {
	mu        sync.Mutex
	stampsOut map[string]string // host -> "<success>:<lastchange>"; unset hosts answer ":"
	stampsErr map[string]error
	commitErr map[string]error
	stamps    []string // hosts queried for stamps, in order
	commits   []string
}

func (f *fakeTransport) Run(_ context.Context, host string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(args) > 0 && args[0] == "anysyncd-helper" && len(args) > 1 {
		switch args[1] {
		case "stamps":
			f.stamps = append(f.stamps, host)
			if err := f.stampsErr[host]; err != nil {
				return nil, err
			}
			// A peer with no stamp files answers ":", as the helper does.
			out, ok := f.stampsOut[host]
			if !ok {
				out = ":"
			}
			return []byte(out), nil
		case "commit":
			f.commits = append(f.commits, host)
			if err := f.commitErr[host]; err != nil {
				return nil, err
			}
			return nil, nil
		}
	}
	return nil, nil
}
