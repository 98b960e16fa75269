// Package registry implements Registry, the public schema-registry API
// (SPEC_FULL.md §4.4): registration, lookup, compatibility management, and
// master-aware routing of mutations.
package registry

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"schemaregistry/internal/dialect"
	"schemaregistry/internal/idalloc"
	"schemaregistry/internal/identity"
	"schemaregistry/internal/regerr"
	"schemaregistry/internal/store"
	"schemaregistry/internal/types"
)

// Schema is the public view of one registered schema version.
type Schema struct {
	Subject    string
	Version    int32
	ID         int32
	SchemaText string
	Type       types.SchemaType
}

// VersionLatest is the sentinel passed to GetByVersion to request the
// highest registered version of a subject.
const VersionLatest int32 = -1

// Forwarder delegates a mutating request to the current master over the
// network. *forwarder.Forwarder implements this.
type Forwarder interface {
	Register(ctx context.Context, master identity.Identity, subject, schemaText, schemaType string, headers map[string]string) (int32, error)
}

// MetricsReporter is notified of this node's master/slave transitions and
// registration outcomes. *metrics.Reporter implements this.
type MetricsReporter interface {
	SetMasterSlaveRole(isMaster bool)
	ObserveRegistration(start time.Time, outcome string)
}

// Config carries the registry's startup-configured defaults.
type Config struct {
	Self                identity.Identity
	DefaultCompatLevel  types.CompatibilityLevel
	ForwardRequestsOnly bool // unused placeholder kept for symmetry with future forwarding of config updates
}

type hashEntry struct {
	id               int32
	versionBySubject map[string]int32
}

// Registry is the single-instance, process-wide registry whose lifecycle is
// init -> serve -> close. It is never a package-level global; the caller
// (cmd/schemaregistry) owns the one instance.
type Registry struct {
	store     *store.LogBackedStore
	dialects  *dialect.Registry
	coord     coordinatorCloser
	forwarder Forwarder
	metrics   MetricsReporter
	cfg       Config

	masterMu       sync.Mutex
	masterIdentity *identity.Identity
	allocator      *idalloc.Allocator
	newAllocator   func(maxID idalloc.MaxIDSource) *idalloc.Allocator

	idxMu                 sync.RWMutex
	bySubjectVersion      map[string]map[int32]store.SchemaValue
	subjectVersionsSorted map[string][]int32
	byID                  map[int32]store.SchemaValue
	hashToEntry           map[string]*hashEntry
	configBySubject       map[string]types.CompatibilityLevel
	configGlobal          *types.CompatibilityLevel
	maxID                 int32
}

// coordinatorCloser is the minimal lifecycle surface Registry needs from the
// coordinator at Close time; the full Coordinator interface is owned by
// whoever wires election and idalloc.
type coordinatorCloser interface {
	Close() error
}

// New builds a Registry. Call Init before serving any request.
func New(st *store.LogBackedStore, dialects *dialect.Registry, coord coordinatorCloser, fwd Forwarder, metrics MetricsReporter, cfg Config, newAllocator func(maxID idalloc.MaxIDSource) *idalloc.Allocator) *Registry {
	if cfg.DefaultCompatLevel == "" {
		cfg.DefaultCompatLevel = types.Backward
	}
	r := &Registry{
		store:                 st,
		dialects:              dialects,
		coord:                 coord,
		forwarder:             fwd,
		metrics:               metrics,
		cfg:                   cfg,
		newAllocator:          newAllocator,
		bySubjectVersion:      make(map[string]map[int32]store.SchemaValue),
		subjectVersionsSorted: make(map[string][]int32),
		byID:                  make(map[int32]store.SchemaValue),
		hashToEntry:           make(map[string]*hashEntry),
		configBySubject:       make(map[string]types.CompatibilityLevel),
		maxID:                 -1,
	}
	st.SetListener(r)
	return r
}

// Init starts the materialized view (blocking on bootstrap readback).
func (r *Registry) Init(ctx context.Context) error {
	return r.store.Init(ctx)
}

// Close tears down the store and coordinator connection.
func (r *Registry) Close(ctx context.Context) error {
	if err := r.store.Close(); err != nil {
		return err
	}
	return r.coord.Close()
}

// ---- store.ApplyListener ----

func (r *Registry) OnSchema(v store.SchemaValue) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	if r.bySubjectVersion[v.Subject] == nil {
		r.bySubjectVersion[v.Subject] = make(map[int32]store.SchemaValue)
	}
	r.bySubjectVersion[v.Subject][v.Version] = v
	r.insertVersionSorted(v.Subject, v.Version)

	r.byID[v.ID] = v
	if v.ID > r.maxID {
		r.maxID = v.ID
	}

	h := hashSchema(v.Schema)
	entry, ok := r.hashToEntry[h]
	if !ok {
		entry = &hashEntry{id: v.ID, versionBySubject: make(map[string]int32)}
		r.hashToEntry[h] = entry
	}
	entry.versionBySubject[v.Subject] = v.Version
}

func (r *Registry) OnConfig(key store.ConfigKey, v store.ConfigValue) {
	r.idxMu.Lock()
	defer r.idxMu.Unlock()

	if key.Subject == nil {
		level := v.Level
		r.configGlobal = &level
		return
	}
	r.configBySubject[*key.Subject] = v.Level
}

func (r *Registry) insertVersionSorted(subject string, version int32) {
	versions := r.subjectVersionsSorted[subject]
	i := sort.Search(len(versions), func(i int) bool { return versions[i] >= version })
	if i < len(versions) && versions[i] == version {
		return
	}
	versions = append(versions, 0)
	copy(versions[i+1:], versions[i:])
	versions[i] = version
	r.subjectVersionsSorted[subject] = versions
}

func hashSchema(canonical string) string {
	sum := md5.Sum([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ---- master election ----

// SetMaster implements election.MasterSetter. Transitions are serialized
// under masterMu: on becoming master, the registry waits for bootstrap,
// primes the id allocator, and reports the role metric; on losing
// mastership, it discards the allocator.
func (r *Registry) SetMaster(id *identity.Identity) {
	r.masterMu.Lock()
	defer r.masterMu.Unlock()

	becomingMaster := id != nil && id.Equal(r.cfg.Self)
	wasMaster := r.masterIdentity != nil && r.masterIdentity.Equal(r.cfg.Self)

	r.masterIdentity = id

	if becomingMaster && !wasMaster {
		if err := r.store.WaitUntilBootstrapCompletes(context.Background()); err != nil {
			slog.Error("bootstrap did not complete before becoming master", "error", err)
			return
		}
		allocator := r.newAllocator(r.maxIDInStore)
		if err := allocator.Init(context.Background()); err != nil {
			slog.Error("failed to prime id allocator", "error", err)
			return
		}
		r.allocator = allocator
		r.metrics.SetMasterSlaveRole(true)
		slog.Info("became master")
	} else if !becomingMaster && wasMaster {
		r.allocator = nil
		r.metrics.SetMasterSlaveRole(false)
		slog.Info("demoted from master")
	}
}

func (r *Registry) maxIDInStore() int32 {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	return r.maxID
}

// isMaster reports whether this node currently holds the master lease, and
// returns the known master identity (nil if none).
func (r *Registry) isMaster() (bool, *identity.Identity) {
	r.masterMu.Lock()
	defer r.masterMu.Unlock()
	if r.masterIdentity != nil && r.masterIdentity.Equal(r.cfg.Self) {
		return true, r.masterIdentity
	}
	return false, r.masterIdentity
}

// ---- public read operations ----

// Get returns a schema by subject and version (VersionLatest for the
// highest version).
func (r *Registry) Get(subject string, version int32) (*Schema, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()

	versions := r.subjectVersionsSorted[subject]
	if len(versions) == 0 {
		return nil, false
	}
	if version == VersionLatest {
		version = versions[len(versions)-1]
	}
	v, ok := r.bySubjectVersion[subject][version]
	if !ok {
		return nil, false
	}
	return toSchema(v), true
}

// GetByID returns the schema text registered under id.
func (r *Registry) GetByID(id int32) (string, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return v.Schema, true
}

// ListSubjects returns every subject with at least one registered version.
func (r *Registry) ListSubjects() []string {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	out := make([]string, 0, len(r.subjectVersionsSorted))
	for subject, versions := range r.subjectVersionsSorted {
		if len(versions) > 0 {
			out = append(out, subject)
		}
	}
	sort.Strings(out)
	return out
}

// GetAllVersions returns subject's schemas ordered by version ascending.
func (r *Registry) GetAllVersions(subject string) []*Schema {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	versions := r.subjectVersionsSorted[subject]
	out := make([]*Schema, 0, len(versions))
	for _, version := range versions {
		v := r.bySubjectVersion[subject][version]
		out = append(out, toSchema(v))
	}
	return out
}

// GetLatestVersion returns the highest-version schema for subject.
func (r *Registry) GetLatestVersion(subject string) (*Schema, bool) {
	return r.Get(subject, VersionLatest)
}

// GetCompatibility returns the effective compatibility level for subject
// (nil for the global default).
func (r *Registry) GetCompatibility(subject *string) types.CompatibilityLevel {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	return r.effectiveLevelLocked(subject)
}

// effectiveLevelLocked implements effectiveLevel(subject) = configValueFor(subject)
// ?? configValueFor(null) ?? defaultFromStartupConfig. Caller must hold idxMu.
func (r *Registry) effectiveLevelLocked(subject *string) types.CompatibilityLevel {
	if subject != nil {
		if level, ok := r.configBySubject[*subject]; ok {
			return level
		}
	}
	if r.configGlobal != nil {
		return *r.configGlobal
	}
	return r.cfg.DefaultCompatLevel
}

func toSchema(v store.SchemaValue) *Schema {
	return &Schema{Subject: v.Subject, Version: v.Version, ID: v.ID, SchemaText: v.Schema, Type: v.SchemaType}
}

// ---- public mutating operations (routed) ----

// Register routes a registration request: if this node is master it runs
// the registration algorithm locally, otherwise it forwards to the known
// master. Fails UnknownMaster if no master is known.
func (r *Registry) Register(ctx context.Context, subject, schemaText string, schemaType types.SchemaType, headers map[string]string) (int32, error) {
	start := time.Now()
	isMaster, master := r.isMaster()

	if isMaster {
		id, err := r.register(ctx, subject, schemaText, schemaType)
		r.metrics.ObserveRegistration(start, outcomeLabel("local", err))
		return id, err
	}
	if master == nil {
		r.metrics.ObserveRegistration(start, "unknown_master")
		return 0, regerr.New(regerr.KindUnknownMaster, "no master currently elected")
	}
	id, err := r.forwarder.Register(ctx, *master, subject, schemaText, string(schemaType), headers)
	r.metrics.ObserveRegistration(start, outcomeLabel("forwarded", err))
	return id, err
}

func outcomeLabel(path string, err error) string {
	if err == nil {
		return path + "_success"
	}
	return path + "_error"
}

// UpdateCompatibility routes a compatibility update. Per spec, forwarding
// config updates is a future extension: a follower always fails
// UnknownMaster rather than forwarding.
func (r *Registry) UpdateCompatibility(ctx context.Context, subject *string, level types.CompatibilityLevel) error {
	if !level.Valid() {
		return regerr.New(regerr.KindInvalidSchema, fmt.Sprintf("invalid compatibility level: %s", level))
	}
	isMaster, _ := r.isMaster()
	if !isMaster {
		return regerr.New(regerr.KindUnknownMaster, "compatibility updates must be issued on the master")
	}
	key := store.ConfigKey{Subject: subject}
	if err := r.store.Append(ctx, key, store.ConfigValue{Level: level}); err != nil {
		return regerr.Wrap(regerr.KindStoreError, "append config", err)
	}
	return nil
}

// Lookup reports the matching registered Schema for (subject, schemaText),
// if any, without registering anything.
func (r *Registry) Lookup(subject, schemaText string, schemaType types.SchemaType) (*Schema, bool, error) {
	d, err := r.dialects.For(schemaType)
	if err != nil {
		return nil, false, regerr.Wrap(regerr.KindInvalidSchema, "unsupported schema type", err)
	}
	canonical, err := d.Canonicalize(schemaText)
	if err != nil {
		return nil, false, regerr.Wrap(regerr.KindInvalidSchema, "canonicalize schema", err)
	}

	r.idxMu.RLock()
	defer r.idxMu.RUnlock()
	entry, ok := r.hashToEntry[hashSchema(canonical)]
	if !ok {
		return nil, false, nil
	}
	version, ok := entry.versionBySubject[subject]
	if !ok {
		return nil, false, nil
	}
	v := r.bySubjectVersion[subject][version]
	return toSchema(v), true, nil
}

// CheckCompatibility reports whether schemaText would be compatible with
// subject's registered versions under its effective compatibility level,
// without registering anything. A transitive level (e.g. BACKWARD_TRANSITIVE)
// checks against every prior version; any other level checks only the
// latest. Returns true if subject has no registered versions yet (there is
// nothing to be incompatible with).
func (r *Registry) CheckCompatibility(subject, schemaText string, schemaType types.SchemaType) (bool, error) {
	d, err := r.dialects.For(schemaType)
	if err != nil {
		return false, regerr.Wrap(regerr.KindInvalidSchema, "unsupported schema type", err)
	}
	canonical, err := d.Canonicalize(schemaText)
	if err != nil {
		return false, regerr.Wrap(regerr.KindInvalidSchema, "canonicalize schema", err)
	}

	level := r.GetCompatibility(&subject)
	return checkAgainstHistory(d, level, canonical, r.GetAllVersions(subject))
}

// checkAgainstHistory reports whether canonical is compatible with versions
// under level: transitive levels (spec.md §8) must hold against every prior
// version, not just the latest, matching the teacher's
// CheckCompatibility/GetVersions loop.
func checkAgainstHistory(d dialect.Dialect, level types.CompatibilityLevel, canonical string, versions []*Schema) (bool, error) {
	if len(versions) == 0 {
		return true, nil
	}

	if !level.Transitive() {
		latest := versions[len(versions)-1]
		return d.IsCompatible(level, canonical, latest.SchemaText)
	}

	for _, v := range versions {
		compatible, err := d.IsCompatible(level, canonical, v.SchemaText)
		if err != nil {
			return false, err
		}
		if !compatible {
			return false, nil
		}
	}
	return true, nil
}

// register implements the registration algorithm (spec.md §4.4,
// SPEC_FULL.md §4.4): canonicalize, dedupe by content hash, check
// compatibility (against every prior version for transitive levels, else
// the latest), assign id/version, append, and return the id. Runs only on the master; does not hold masterMu, relying on the log's
// single-writer-at-a-time property for correctness across concurrent
// register calls.
func (r *Registry) register(ctx context.Context, subject, schemaText string, schemaType types.SchemaType) (int32, error) {
	d, err := r.dialects.For(schemaType)
	if err != nil {
		return 0, regerr.Wrap(regerr.KindInvalidSchema, "unsupported schema type", err)
	}
	canonical, err := d.Canonicalize(schemaText)
	if err != nil {
		return 0, regerr.Wrap(regerr.KindInvalidSchema, "canonicalize schema", err)
	}

	h := hashSchema(canonical)

	r.idxMu.RLock()
	entry, dup := r.hashToEntry[h]
	var carriedID int32
	var carriedIDSet bool
	if dup {
		if version, ok := entry.versionBySubject[subject]; ok {
			// Idempotent no-op: this exact schema is already registered
			// under this subject.
			id := r.bySubjectVersion[subject][version].ID
			r.idxMu.RUnlock()
			return id, nil
		}
		carriedID = entry.id
		carriedIDSet = true
	}
	r.idxMu.RUnlock()

	versions := r.GetAllVersions(subject)
	var latest *Schema
	if len(versions) > 0 {
		latest = versions[len(versions)-1]
	}
	newVersion := int32(1)
	if latest != nil {
		newVersion = latest.Version + 1
	}

	if latest != nil {
		level := r.GetCompatibility(&subject)
		compatible, err := checkAgainstHistory(d, level, canonical, versions)
		if err != nil {
			return 0, regerr.Wrap(regerr.KindIncompatibleSchema, "check compatibility", err)
		}
		if !compatible {
			return 0, regerr.New(regerr.KindIncompatibleSchema, "schema is not compatible with registered versions")
		}
	}

	id := carriedID
	if !carriedIDSet {
		if r.allocator == nil {
			return 0, regerr.New(regerr.KindUnknownMaster, "id allocator not primed; this node is not master")
		}
		allocated, err := r.allocator.Next(ctx)
		if err != nil {
			return 0, regerr.Wrap(regerr.KindStoreError, "allocate schema id", err)
		}
		id = allocated
	}

	key := store.SchemaKey{Subject: subject, Version: newVersion}
	value := store.SchemaValue{Subject: subject, Version: newVersion, ID: id, Schema: canonical, SchemaType: schemaType}
	if err := r.store.Append(ctx, key, value); err != nil {
		return 0, regerr.Wrap(regerr.KindStoreError, "append schema", err)
	}

	return id, nil
}
