package coordinator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Config configures the NATS JetStream KV-backed Coordinator.
type Config struct {
	URL            string
	ClusterName    string
	NodesBucket    string // persistent nodes, e.g. schema_id_counter
	MembersBucket  string // ephemeral membership, TTL-bound
	SessionTimeout time.Duration
	ConnectOpts    []nats.Option
}

// NATSCoordinator realizes Coordinator on top of two JetStream KV buckets:
// one for persistent, version-guarded nodes and one for TTL-bound ephemeral
// membership, per SPEC_FULL.md §D.2.
type NATSCoordinator struct {
	cfg     Config
	conn    *nats.Conn
	js      nats.JetStreamContext
	nodes   nats.KeyValue
	members nats.KeyValue
}

// Connect dials NATS and opens (creating if absent) the two KV buckets this
// Coordinator needs.
func Connect(cfg Config) (*NATSCoordinator, error) {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 30 * time.Second
	}

	opts := append([]nats.Option{
		nats.Name("schema-registry-coordinator"),
		nats.Timeout(cfg.SessionTimeout),
	}, cfg.ConnectOpts...)

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &NATSCoordinator{cfg: cfg, conn: conn, js: js}
	if c.nodes, err = c.openBucket(cfg.NodesBucket, 0); err != nil {
		conn.Close()
		return nil, err
	}
	if c.members, err = c.openBucket(cfg.MembersBucket, cfg.SessionTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *NATSCoordinator) openBucket(name string, ttl time.Duration) (nats.KeyValue, error) {
	bucket := c.cfg.ClusterName + "_" + name
	kv, err := c.js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		return c.js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 5,
			TTL:     ttl,
			Storage: nats.FileStorage,
		})
	}
	return kv, err
}

func (c *NATSCoordinator) EnsureNamespace(ctx context.Context) error {
	// Bucket creation in Connect already creates the "/<clusterName>"
	// namespace root implicitly; nothing further is required.
	return nil
}

func (c *NATSCoordinator) Get(ctx context.Context, path string) (Entry, error) {
	e, err := c.nodes.Get(normalizePath(path))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry{Value: e.Value(), Version: e.Revision()}, nil
}

func (c *NATSCoordinator) Create(ctx context.Context, path string, value []byte) error {
	_, err := c.nodes.Create(normalizePath(path), value)
	if errors.Is(err, nats.ErrKeyExists) {
		return ErrAlreadyExists
	}
	return err
}

func (c *NATSCoordinator) CAS(ctx context.Context, path string, value []byte, version uint64) error {
	_, err := c.nodes.Update(normalizePath(path), value, version)
	if err != nil {
		// nats.go surfaces a wrong-last-sequence API error here; any failure
		// on a conditional update is treated as a stale version per the
		// batch-reservation retry loop in SPEC_FULL.md §4.3.
		return ErrVersionMismatch
	}
	return nil
}

// Register puts memberID's entry in the membership bucket. The ttl argument
// is not applied per entry: every member entry expires after the bucket's
// TTL, which is Config.SessionTimeout.
func (c *NATSCoordinator) Register(ctx context.Context, memberID string, value []byte, ttl time.Duration) error {
	_, err := c.members.Put(normalizePath(memberID), value)
	return err
}

func (c *NATSCoordinator) Deregister(ctx context.Context, memberID string) error {
	err := c.members.Delete(normalizePath(memberID))
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (c *NATSCoordinator) Watch(ctx context.Context) (<-chan MembershipEvent, error) {
	watcher, err := c.members.WatchAll()
	if err != nil {
		return nil, err
	}

	out := make(chan MembershipEvent, 64)
	go func() {
		defer watcher.Stop()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if update == nil {
					continue // nil marks "caught up", not a real event
				}
				ev := MembershipEvent{
					MemberID: update.Key(),
					Value:    update.Value(),
					Removed:  update.Operation() != nats.KeyValuePut,
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *NATSCoordinator) Close() error {
	c.conn.Close()
	return nil
}

// normalizePath turns a ZooKeeper-style "/schema_id_counter" path into a bare
// NATS KV key; NATS key names cannot contain a leading slash.
func normalizePath(path string) string {
	return strings.TrimPrefix(path, "/")
}
