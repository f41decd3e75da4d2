// Package redisstore provides Redis-backed persistence adapters: a DataStore
// mirror for flag and segment data, and a BigSegmentStore for membership
// queries. Both speak the key layout documented on their constructors, so an
// external process (a relay or exporter) can populate the same database.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/interfaces"
	"github.com/rafaeljc/bifrost/ldmodel"
)

// DefaultPrefix namespaces all keys written by this package.
const DefaultPrefix = "bifrost"

const (
	initedSuffix      = "$inited"
	operationTimeout  = 3 * time.Second
	connectionTimeout = 5 * time.Second
)

// Options configures the Redis connection and key namespace.
type Options struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Prefix namespaces every key; empty means DefaultPrefix.
	Prefix string

	// Password is the optional AUTH password.
	Password string

	// DB selects the logical database.
	DB int
}

func (o Options) prefix() string {
	if o.Prefix == "" {
		return DefaultPrefix
	}
	return o.Prefix
}

// newClient builds a go-redis client with fail-fast connection verification.
func newClient(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		// Timeouts prevent cascading failures
		DialTimeout:  connectionTimeout,
		ReadTimeout:  operationTimeout,
		WriteTimeout: operationTimeout,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	initCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(initCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// DataStore is a Redis-backed interfaces.DataStore. Each kind is one hash
// ("<prefix>:features", "<prefix>:segments"); fields are item keys, values
// are JSON envelopes carrying the version and, for live items, the item
// itself. Tombstones keep the version with no item.
type DataStore struct {
	client *redis.Client
	prefix string
}

var _ interfaces.DataStore = (*DataStore)(nil)

// storedItem is the JSON envelope persisted per item.
type storedItem struct {
	Version int             `json:"version"`
	Deleted bool            `json:"deleted,omitempty"`
	Item    json.RawMessage `json:"item,omitempty"`
}

// NewDataStore connects to Redis and returns the persistence adapter.
func NewDataStore(ctx context.Context, opts Options) (*DataStore, error) {
	client, err := newClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &DataStore{client: client, prefix: opts.prefix()}, nil
}

func (s *DataStore) hashKey(kind interfaces.DataKind) string {
	return fmt.Sprintf("%s:%s", s.prefix, kind)
}

func (s *DataStore) initedKey() string {
	return fmt.Sprintf("%s:%s", s.prefix, initedSuffix)
}

// Init atomically replaces all collections in one transaction.
func (s *DataStore) Init(allData []interfaces.Collection) error {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	for _, coll := range allData {
		hash := s.hashKey(coll.Kind)
		pipe.Del(ctx, hash)
		if len(coll.Items) == 0 {
			continue
		}
		fields := make(map[string]any, len(coll.Items))
		for _, item := range coll.Items {
			envelope, err := marshalItem(item.Item)
			if err != nil {
				return fmt.Errorf("serializing %s %q: %w", coll.Kind, item.Key, err)
			}
			fields[item.Key] = envelope
		}
		pipe.HSet(ctx, hash, fields)
	}
	pipe.Set(ctx, s.initedKey(), "1", 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("initializing redis store: %w", err)
	}
	return nil
}

// Get reads one item; missing fields map to NotFound.
func (s *DataStore) Get(kind interfaces.DataKind, key string) (interfaces.ItemDescriptor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	raw, err := s.client.HGet(ctx, s.hashKey(kind), key).Result()
	if err == redis.Nil {
		return interfaces.NotFound(), nil
	}
	if err != nil {
		return interfaces.NotFound(), fmt.Errorf("reading %s %q from redis: %w", kind, key, err)
	}
	return unmarshalItem(kind, []byte(raw))
}

// GetAll reads every non-deleted item of a kind.
func (s *DataStore) GetAll(kind interfaces.DataKind) ([]interfaces.KeyedItemDescriptor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.hashKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading all %s from redis: %w", kind, err)
	}

	items := make([]interfaces.KeyedItemDescriptor, 0, len(raw))
	for key, value := range raw {
		desc, err := unmarshalItem(kind, []byte(value))
		if err != nil {
			return nil, err
		}
		if desc.IsDeleted() {
			continue
		}
		items = append(items, interfaces.KeyedItemDescriptor{Key: key, Item: desc})
	}
	return items, nil
}

// Upsert applies the version gate with WATCH-based optimistic locking, so
// that concurrent writers never regress an item's version.
func (s *DataStore) Upsert(kind interfaces.DataKind, key string, item interfaces.ItemDescriptor) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	hash := s.hashKey(kind)
	envelope, err := marshalItem(item)
	if err != nil {
		return false, fmt.Errorf("serializing %s %q: %w", kind, key, err)
	}

	updated := false
	txn := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, hash, key).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == nil {
			var existing storedItem
			if jsonErr := json.Unmarshal([]byte(raw), &existing); jsonErr == nil &&
				existing.Version >= item.Version {
				updated = false
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hash, key, envelope)
			return nil
		})
		if err == nil {
			updated = true
		}
		return err
	}

	// TxFailedErr means another writer touched the key mid-check; retry a
	// few times before giving up.
	for i := 0; i < 10; i++ {
		err := s.client.Watch(ctx, txn, hash)
		if err == nil {
			return updated, nil
		}
		if err != redis.TxFailedErr {
			return false, fmt.Errorf("upserting %s %q in redis: %w", kind, key, err)
		}
	}
	return false, fmt.Errorf("upserting %s %q in redis: too many concurrent modifications", kind, key)
}

// IsInitialized reports whether Init has ever completed against this
// database.
func (s *DataStore) IsInitialized() bool {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	n, err := s.client.Exists(ctx, s.initedKey()).Result()
	return err == nil && n > 0
}

// IsStoreAvailable probes connectivity; the data store's outage monitor uses
// it to detect recovery.
func (s *DataStore) IsStoreAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

// Close closes the Redis client connection.
func (s *DataStore) Close() error {
	return s.client.Close()
}

func marshalItem(item interfaces.ItemDescriptor) (string, error) {
	envelope := storedItem{Version: item.Version}
	if item.Item == nil {
		envelope.Deleted = true
	} else {
		data, err := json.Marshal(item.Item)
		if err != nil {
			return "", err
		}
		envelope.Item = data
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalItem(kind interfaces.DataKind, data []byte) (interfaces.ItemDescriptor, error) {
	var envelope storedItem
	if err := json.Unmarshal(data, &envelope); err != nil {
		return interfaces.NotFound(), fmt.Errorf("malformed stored item: %w", err)
	}
	if envelope.Deleted || envelope.Item == nil {
		return interfaces.ItemDescriptor{Version: envelope.Version}, nil
	}

	switch kind {
	case interfaces.DataKindFeatures:
		flag, err := ldmodel.UnmarshalFeatureFlag(envelope.Item)
		if err != nil {
			return interfaces.NotFound(), fmt.Errorf("malformed stored flag: %w", err)
		}
		return interfaces.ItemDescriptor{Version: envelope.Version, Item: &flag}, nil
	case interfaces.DataKindSegments:
		segment, err := ldmodel.UnmarshalSegment(envelope.Item)
		if err != nil {
			return interfaces.NotFound(), fmt.Errorf("malformed stored segment: %w", err)
		}
		return interfaces.ItemDescriptor{Version: envelope.Version, Item: &segment}, nil
	default:
		return interfaces.NotFound(), fmt.Errorf("unknown data kind %v", kind)
	}
}
