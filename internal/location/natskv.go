package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// DefaultBucket is the JetStream KV bucket holding service locations.
const DefaultBucket = "rs_locations"

// KV implements Binding over a NATS JetStream key-value bucket. Keys are
// service keys; values are JSON Endpoint records. Every node of the cluster
// watches the same bucket, so a single Put relocates a service everywhere.
type KV struct {
	nc  *nats.Conn
	kv  jetstream.KeyValue
	log logpkg.Logger
}

var _ Binding = (*KV)(nil)

// OpenKV connects the binding to the bucket, creating it when absent.
func OpenKV(ctx context.Context, nc *nats.Conn, bucket string, logger logpkg.Logger) (*KV, error) {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("location: jetstream init: %w", err)
	}
	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "reactiveservices service locations",
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("location: open bucket %q: %w", bucket, err)
	}
	return &KV{nc: nc, kv: kv, log: logger.With(logpkg.Component("location"), logpkg.Str("bucket", bucket))}, nil
}

// Watch replays the bucket and then streams updates. Each call owns its own
// KV watcher; cancelling ctx releases it.
func (k *KV) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := k.kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("location: watch: %w", err)
	}
	ch := make(chan Change, 64)
	go func() {
		defer close(ch)
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// Initial replay marker.
					continue
				}
				change, err := toChange(entry)
				if err != nil {
					k.log.Warn("malformed location record", logpkg.Str("key", entry.Key()), logpkg.Err(err))
					continue
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func toChange(entry jetstream.KeyValueEntry) (Change, error) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return Change{Service: entry.Key()}, nil
	default:
		var ep Endpoint
		if err := json.Unmarshal(entry.Value(), &ep); err != nil {
			return Change{}, err
		}
		if ep.Service == "" {
			ep.Service = entry.Key()
		}
		return Change{Service: entry.Key(), Location: &ep}, nil
	}
}

// Advertise writes the endpoint record under the service key.
func (k *KV) Advertise(ctx context.Context, ep Endpoint) error {
	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}
	if _, err := k.kv.Put(ctx, ep.Service, val); err != nil {
		return fmt.Errorf("location: advertise %q: %w", ep.Service, err)
	}
	k.log.Info("service advertised", logpkg.Str("service", ep.Service), logpkg.Str("node", ep.NodeID))
	return nil
}

// Withdraw deletes the service's record.
func (k *KV) Withdraw(ctx context.Context, service string) error {
	if err := k.kv.Delete(ctx, service); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("location: withdraw %q: %w", service, err)
	}
	return nil
}

// Close is a no-op: watcher lifetimes follow their contexts and the NATS
// connection belongs to the caller.
func (k *KV) Close() error { return nil }
