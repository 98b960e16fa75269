// Package store implements LogBackedStore: a typed key-value view whose
// authoritative state is an append-only log, projected into memory by a
// single tailer goroutine. See SPEC_FULL.md §4.1.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"schemaregistry/internal/logclient"
)

// ApplyListener is notified of every SchemaValue/ConfigValue applied by the
// tailer, in log order. It replaces the cyclic Registry<->store callback the
// original source used; the tailer only ever calls outward through this
// small capability (SPEC_FULL.md §9).
type ApplyListener interface {
	OnSchema(v SchemaValue)
	OnConfig(key ConfigKey, v ConfigValue)
}

// noopListener is used before a real listener is attached (e.g. during the
// bootstrap Noop record itself, which never reaches OnSchema/OnConfig).
type noopListener struct{}

func (noopListener) OnSchema(SchemaValue)          {}
func (noopListener) OnConfig(ConfigKey, ConfigValue) {}

// Config controls the deadlines LogBackedStore enforces.
type Config struct {
	BootstrapTimeout time.Duration
	WriteTimeout     time.Duration
}

// LogBackedStore is the materialized, append-only-log-backed key-value view
// described in SPEC_FULL.md §4.1.
type LogBackedStore struct {
	log        logclient.Client
	serializer Serializer
	cfg        Config

	mu   sync.RWMutex
	data map[string]entry

	appliedOffset   atomic.Uint64
	bootstrapOffset atomic.Uint64 // set once Init knows the marker's offset; 0 means "not yet known"
	listener        ApplyListener

	bootstrapOnce sync.Once
	bootstrapDone chan struct{}

	closeOnce sync.Once
	cancel    context.CancelFunc
	tailerWG  sync.WaitGroup
}

type entry struct {
	key   Key
	value Value
}

// New builds a LogBackedStore over log using the given wire Serializer.
// SetListener must be called before Init if the caller wants apply
// notifications (the Registry always does).
func New(log logclient.Client, serializer Serializer, cfg Config) *LogBackedStore {
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &LogBackedStore{
		log:           log,
		serializer:    serializer,
		cfg:           cfg,
		data:          make(map[string]entry),
		listener:      noopListener{},
		bootstrapDone: make(chan struct{}),
	}
}

// SetListener attaches the ApplyListener the tailer notifies. Must be called
// before Init.
func (s *LogBackedStore) SetListener(l ApplyListener) {
	if l == nil {
		l = noopListener{}
	}
	s.listener = l
}

// Init subscribes from the beginning of the topic, starts the tailer, appends
// a synthetic NoopKey record, and blocks until the tailer has applied every
// record up to and including that record's offset.
func (s *LogBackedStore) Init(ctx context.Context) error {
	tailCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	records, err := s.log.Tail(tailCtx)
	if err != nil {
		cancel()
		return &StoreError{Op: "init/tail", Err: err}
	}

	s.tailerWG.Add(1)
	go s.runTailer(records)

	nonce, err := randomNonce()
	if err != nil {
		return &StoreError{Op: "init/nonce", Err: err}
	}

	produceCtx, produceCancel := context.WithTimeout(ctx, s.cfg.BootstrapTimeout)
	defer produceCancel()

	rec := Record{Key: NoopKey{Nonce: nonce}, Value: nil}
	payload, err := s.serializer.Encode(rec)
	if err != nil {
		return &StoreError{Op: "init/encode", Err: err}
	}

	offset, err := s.log.Produce(produceCtx, payload)
	if err != nil {
		return &StoreError{Op: "init/produce", Err: err}
	}
	s.bootstrapOffset.Store(offset)
	if s.appliedOffset.Load() >= offset {
		s.bootstrapOnce.Do(func() { close(s.bootstrapDone) })
	}

	return s.waitForOffset(produceCtx, offset, ErrBootstrapTimeout)
}

// Append serializes (key, value), produces it to the log, and blocks until
// the tailer has applied it, giving the caller (always the master)
// read-your-writes.
func (s *LogBackedStore) Append(ctx context.Context, key Key, value Value) error {
	payload, err := s.serializer.Encode(Record{Key: key, Value: value})
	if err != nil {
		return &StoreError{Op: "append/encode", Err: err}
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	offset, err := s.log.Produce(writeCtx, payload)
	if err != nil {
		return &StoreError{Op: "append/produce", Err: err}
	}

	return s.waitForOffset(writeCtx, offset, ErrWriteTimeout)
}

func (s *LogBackedStore) waitForOffset(ctx context.Context, offset uint64, timeoutErr error) error {
	if s.appliedOffset.Load() >= offset {
		return nil
	}
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.appliedOffset.Load() >= offset {
				return nil
			}
		case <-ctx.Done():
			return timeoutErr
		}
	}
}

// Get returns the current value for key, or nil if absent.
func (s *LogBackedStore) Get(key Key) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key.String()]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetAll returns, in key order, every value whose key falls in [lo, hi].
func (s *LogBackedStore) GetAll(lo, hi Key) []Value {
	s.mu.RLock()
	entries := make([]entry, 0, len(s.data))
	for _, e := range s.data {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].key.Less(entries[j].key) })

	out := make([]Value, 0)
	for _, e := range entries {
		if e.key.Less(lo) || hi.Less(e.key) {
			continue // outside [lo, hi]
		}
		out = append(out, e.value)
	}
	return out
}

// GetAllKeys returns every key currently in the materialized view.
func (s *LogBackedStore) GetAllKeys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Key, 0, len(s.data))
	for _, e := range s.data {
		out = append(out, e.key)
	}
	return out
}

// WaitUntilBootstrapCompletes blocks until Init's bootstrap marker has been
// applied. Idempotent: safe to call repeatedly, including after bootstrap
// already completed.
func (s *LogBackedStore) WaitUntilBootstrapCompletes(ctx context.Context) error {
	select {
	case <-s.bootstrapDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the tailer goroutine and releases the underlying log client.
func (s *LogBackedStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.tailerWG.Wait()
		err = s.log.Close()
	})
	return err
}

func (s *LogBackedStore) runTailer(records <-chan logclient.Record) {
	defer s.tailerWG.Done()
	for rec := range records {
		s.applyRecord(rec)
	}
}

func (s *LogBackedStore) applyRecord(rec logclient.Record) {
	decoded, err := s.serializer.Decode(rec.Payload)
	if err != nil {
		slog.Warn("skipping corrupt log record", "offset", rec.Offset, "error", err)
		if rec.Ack != nil {
			_ = rec.Ack()
		}
		s.advanceOffset(rec.Offset)
		return
	}

	switch v := decoded.Value.(type) {
	case nil:
		// NoopKey marker: nothing to materialize.
	case SchemaValue:
		s.mu.Lock()
		s.data[decoded.Key.String()] = entry{key: decoded.Key, value: v}
		s.mu.Unlock()
		s.listener.OnSchema(v)
	case ConfigValue:
		ck, ok := decoded.Key.(ConfigKey)
		if !ok {
			slog.Warn("config value with non-config key, skipping", "offset", rec.Offset)
			break
		}
		s.mu.Lock()
		s.data[decoded.Key.String()] = entry{key: decoded.Key, value: v}
		s.mu.Unlock()
		s.listener.OnConfig(ck, v)
	default:
		slog.Warn("unknown value kind, skipping", "offset", rec.Offset, "type", fmt.Sprintf("%T", v))
	}

	if rec.Ack != nil {
		if err := rec.Ack(); err != nil {
			slog.Warn("failed to ack log record", "offset", rec.Offset, "error", err)
		}
	}

	s.advanceOffset(rec.Offset)
}

func (s *LogBackedStore) advanceOffset(offset uint64) {
	s.appliedOffset.Store(offset)
	if bo := s.bootstrapOffset.Load(); bo != 0 && offset >= bo {
		s.bootstrapOnce.Do(func() { close(s.bootstrapDone) })
	}
}

func randomNonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
