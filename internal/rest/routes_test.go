package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"schemaregistry/internal/coordinator"
	"schemaregistry/internal/dialect"
	dialectavro "schemaregistry/internal/dialect/avro"
	"schemaregistry/internal/idalloc"
	"schemaregistry/internal/identity"
	"schemaregistry/internal/logclient"
	"schemaregistry/internal/registry"
	"schemaregistry/internal/store"
	"schemaregistry/internal/types"

	"github.com/stretchr/testify/require"
)

// fakeLogClient is an in-memory logclient.Client mirroring the registry
// package's own test double: Produce fans new records out to every active
// Tail subscriber, replaying prior records to new subscribers first.
type fakeLogClient struct {
	mu      sync.Mutex
	records [][]byte
	subs    []chan logclient.Record
}

func (c *fakeLogClient) Produce(ctx context.Context, payload []byte) (uint64, error) {
	c.mu.Lock()
	c.records = append(c.records, payload)
	offset := uint64(len(c.records))
	subs := append([]chan logclient.Record{}, c.subs...)
	c.mu.Unlock()

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

type fakeCoordinator struct {
	mu      sync.Mutex
	nodes   map[string][]byte
	version map[string]uint64
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

type fakeForwarder struct{}

func (fakeForwarder) Register(ctx context.Context, master identity.Identity, subject, schemaText, schemaType string, headers map[string]string) (int32, error) {
	return 0, nil
}

type fakeMetrics struct{}

func (fakeMetrics) SetMasterSlaveRole(isMaster bool)                   {}
func (fakeMetrics) ObserveRegistration(start time.Time, outcome string) {}

const userV1 = `{"type":"record","name":"User","fields":[{"name":"id","type":"string"}]}`

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	log := &fakeLogClient{}
	st := store.New(log, store.JSONSerializer{}, store.Config{BootstrapTimeout: time.Second, WriteTimeout: time.Second})

	dialects := dialect.NewRegistry()
	dialects.Register(types.Avro, dialectavro.New())

	coord := newFakeCoordinator()
	self := identity.Identity{Host: "localhost", Port: 8081, Eligible: true}

	r := registry.New(st, dialects, coord, fakeForwarder{}, fakeMetrics{}, registry.Config{Self: self, DefaultCompatLevel: types.Backward}, func(maxID idalloc.MaxIDSource) *idalloc.Allocator {
		return idalloc.New(coord, maxID, idalloc.Config{BatchSize: 20})
	})

	require.NoError(t, r.Init(context.Background()))
	r.SetMaster(&self)
	return NewHandler(r)
}

func doRequest(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterAndGetSchemaRoundTrip(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	rec := doRequest(router, http.MethodPost, "/subjects/users/versions", SchemaRequest{Schema: userV1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SchemaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 0, resp.ID)

	rec = doRequest(router, http.MethodGet, "/subjects/users/versions/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var record SchemaRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, "users", record.Subject)
	require.EqualValues(t, 1, record.Version)
}

func TestGetSchemaMissingVersionReturns404(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	rec := doRequest(router, http.MethodGet, "/subjects/users/versions/1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, 40401, errResp.ErrorCode)
}

func TestListSubjectsReflectsRegistrations(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	rec := doRequest(router, http.MethodPost, "/subjects/users/versions", SchemaRequest{Schema: userV1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/subjects", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var subjects []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &subjects))
	require.Equal(t, []string{"users"}, subjects)
}

func TestCheckCompatibilityOnEmptySubjectIsTrue(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	rec := doRequest(router, http.MethodPost, "/compatibility/subjects/users/versions/latest", SchemaRequest{Schema: userV1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CompatibilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.IsCompatible)
}

func TestGlobalConfigRoundTrip(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	rec := doRequest(router, http.MethodPut, "/config", ConfigRequest{Compatibility: string(types.Full)})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, string(types.Full), resp.CompatibilityLevel)
}

func TestRegisterInvalidJSONReturns400(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	req := httptest.NewRequest(http.MethodPost, "/subjects/users/versions", bytes.NewBufferString("not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteVersionReturns405(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	rec := doRequest(router, http.MethodDelete, "/subjects/users/versions/1", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.NotZero(t, errResp.ErrorCode)
}

func TestDeleteSubjectReturns405(t *testing.T) {
	router := NewRouter(newTestHandler(t))

	rec := doRequest(router, http.MethodDelete, "/subjects/users", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
