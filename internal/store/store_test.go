package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"schemaregistry/internal/logclient"
	"schemaregistry/internal/types"

	"github.com/stretchr/testify/require"
)

// fakeLogClient is an in-memory logclient.Client mirroring the registry
// package's own test double: Produce fans new records out to every active
// Tail subscriber, replaying prior records to new subscribers first.
// stallFrom, when non-zero, makes Produce accept (and number) offsets >= it
// without ever delivering them to a subscriber, simulating a tailer that
// never catches up.
type fakeLogClient struct {
	mu        sync.Mutex
	records   [][]byte
	subs      []chan logclient.Record
	stallFrom uint64
}

func (c *fakeLogClient) Produce(ctx context.Context, payload []byte) (uint64, error) {
	c.mu.Lock()
	c.records = append(c.records, payload)
	offset := uint64(len(c.records))
	stall := c.stallFrom != 0 && offset >= c.stallFrom
	subs := append([]chan logclient.Record{}, c.subs...)
	c.mu.Unlock()

	if stall {
		return offset, nil
	}

	rec := logclient.Record{Offset: offset, Payload: payload, Ack: func() error { return nil }}
	for _, ch := range subs {
		ch <- rec
	}
	return offset, nil
}

func (c *fakeLogClient) Tail(ctx context.Context) (<-chan logclient.Record, error) {
	ch := make(chan logclient.Record, 256)
	c.mu.Lock()
	for i, payload := range c.records {
		ch <- logclient.Record{Offset: uint64(i + 1), Payload: payload, Ack: func() error { return nil }}
	}
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch, nil
}

func (c *fakeLogClient) Close() error { return nil }

func (c *fakeLogClient) setStallFrom(offset uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stallFrom = offset
}

func TestInitTimesOutWhenTailerNeverCatchesUp(t *testing.T) {
	log := &fakeLogClient{stallFrom: 1}
	st := New(log, JSONSerializer{}, Config{BootstrapTimeout: 20 * time.Millisecond, WriteTimeout: time.Second})

	err := st.Init(context.Background())
	require.ErrorIs(t, err, ErrBootstrapTimeout)
}

func TestAppendTimesOutWhenTailerNeverCatchesUp(t *testing.T) {
	log := &fakeLogClient{}
	st := New(log, JSONSerializer{}, Config{BootstrapTimeout: time.Second, WriteTimeout: 20 * time.Millisecond})
	require.NoError(t, st.Init(context.Background()))

	log.setStallFrom(uint64(len(log.records) + 1))

	key := SchemaKey{Subject: "users", Version: 1}
	val := SchemaValue{Subject: "users", Version: 1, ID: 1, Schema: "{}", SchemaType: types.Avro}
	err := st.Append(context.Background(), key, val)
	require.ErrorIs(t, err, ErrWriteTimeout)
}

func TestCorruptRecordIsSkippedDuringBootstrap(t *testing.T) {
	log := &fakeLogClient{records: [][]byte{[]byte("not a valid record")}}
	st := New(log, JSONSerializer{}, Config{BootstrapTimeout: time.Second, WriteTimeout: time.Second})

	require.NoError(t, st.Init(context.Background()))

	key := SchemaKey{Subject: "users", Version: 1}
	val := SchemaValue{Subject: "users", Version: 1, ID: 7, Schema: "{}", SchemaType: types.Avro}
	require.NoError(t, st.Append(context.Background(), key, val))

	got, ok := st.Get(key)
	require.True(t, ok)
	require.Equal(t, val, got)
}

func TestCorruptRecordDuringSteadyStateIsSkippedNotFatal(t *testing.T) {
	log := &fakeLogClient{}
	st := New(log, JSONSerializer{}, Config{BootstrapTimeout: time.Second, WriteTimeout: time.Second})
	require.NoError(t, st.Init(context.Background()))

	_, err := log.Produce(context.Background(), []byte("{garbage"))
	require.NoError(t, err)

	key := SchemaKey{Subject: "users", Version: 1}
	val := SchemaValue{Subject: "users", Version: 1, ID: 9, Schema: "{}", SchemaType: types.Avro}
	require.NoError(t, st.Append(context.Background(), key, val))

	got, ok := st.Get(key)
	require.True(t, ok)
	require.Equal(t, val, got)
}
