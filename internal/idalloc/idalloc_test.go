package idalloc

import (
	"context"
	"sync"
	"testing"
	"time"

	"schemaregistry/internal/coordinator"

	"github.com/stretchr/testify/require"
)

// fakeCoordinator is a minimal in-memory coordinator.Coordinator, enough to
// exercise the batch-allocation CAS loop without a real NATS server.
type fakeCoordinator struct {
	mu      sync.Mutex
	nodes   map[string][]byte
	version map[string]uint64
	casHook func(path string)
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{nodes: make(map[string][]byte), version: make(map[string]uint64)}
}

func (f *fakeCoordinator) EnsureNamespace(ctx context.Context) error { return nil }

func (f *fakeCoordinator) Get(ctx context.Context, path string) (coordinator.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.nodes[path]
	if !ok {
		return coordinator.Entry{}, coordinator.ErrNotFound
	}
	return coordinator.Entry{Value: v, Version: f.version[path]}, nil
}

func (f *fakeCoordinator) Create(ctx context.Context, path string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[path]; ok {
		return coordinator.ErrAlreadyExists
	}
	f.nodes[path] = value
	f.version[path] = 1
	return nil
}

func (f *fakeCoordinator) CAS(ctx context.Context, path string, value []byte, version uint64) error {
	if f.casHook != nil {
		f.casHook(path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.version[path] != version {
		return coordinator.ErrVersionMismatch
	}
	f.nodes[path] = value
	f.version[path]++
	return nil
}

func (f *fakeCoordinator) Register(ctx context.Context, memberID string, value []byte, ttl time.Duration) error {
	return nil
}
func (f *fakeCoordinator) Deregister(ctx context.Context, memberID string) error { return nil }
func (f *fakeCoordinator) Watch(ctx context.Context) (<-chan coordinator.MembershipEvent, error) {
	ch := make(chan coordinator.MembershipEvent)
	close(ch)
	return ch, nil
}
func (f *fakeCoordinator) Close() error { return nil }

func TestAllocatorInitSeedsCounterWhenAbsent(t *testing.T) {
	coord := newFakeCoordinator()
	a := New(coord, func() int32 { return -1 }, Config{})

	require.NoError(t, a.Init(context.Background()))

	id, err := a.Next(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 0, id)

	entry, err := coord.Get(context.Background(), CounterPath)
	require.NoError(t, err)
	require.Equal(t, "20", string(entry.Value))
}

func TestAllocatorSeedsAboveExistingMaxID(t *testing.T) {
	coord := newFakeCoordinator()
	a := New(coord, func() int32 { return 45 }, Config{})

	require.NoError(t, a.Init(context.Background()))

	id, err := a.Next(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 60, id) // (1 + 45/20) * 20 = 60
}

func TestAllocatorReportsEachBatchClaimed(t *testing.T) {
	coord := newFakeCoordinator()
	var claims int
	a := New(coord, func() int32 { return -1 }, Config{BatchSize: 2, OnBatchClaimed: func() { claims++ }})
	require.NoError(t, a.Init(context.Background()))
	require.Equal(t, 1, claims)

	for i := 0; i < 2; i++ {
		_, err := a.Next(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, 1, claims)

	_, err := a.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, claims)
}

func TestAllocatorClaimsNewBatchOnExhaustion(t *testing.T) {
	coord := newFakeCoordinator()
	a := New(coord, func() int32 { return -1 }, Config{BatchSize: 2})
	require.NoError(t, a.Init(context.Background()))

	ids := make([]int32, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := a.Next(context.Background())
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Equal(t, []int32{0, 1, 2, 3, 4}, ids)
}

func TestAllocatorAlignsNonMultipleCounter(t *testing.T) {
	coord := newFakeCoordinator()
	require.NoError(t, coord.Create(context.Background(), CounterPath, []byte("17")))

	a := New(coord, func() int32 { return -1 }, Config{BatchSize: 20})
	require.NoError(t, a.Init(context.Background()))

	id, err := a.Next(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 20, id) // (1 + 17/20) * 20 = 20
}

func TestAllocatorRetriesOnConcurrentCAS(t *testing.T) {
	coord := newFakeCoordinator()
	require.NoError(t, coord.Create(context.Background(), CounterPath, []byte("0")))

	var once sync.Once
	coord.casHook = func(path string) {
		once.Do(func() {
			// Simulate a concurrent master winning the race for this batch.
			coord.mu.Lock()
			coord.nodes[path] = []byte("40")
			coord.version[path]++
			coord.mu.Unlock()
		})
	}

	a := New(coord, func() int32 { return -1 }, Config{BatchSize: 20, RetryBackoff: time.Millisecond})
	require.NoError(t, a.Init(context.Background()))

	id, err := a.Next(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 40, id)
}
