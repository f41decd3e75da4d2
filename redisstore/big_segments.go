package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rafaeljc/bifrost/interfaces"
)

// BigSegmentStore reads Big Segment membership data maintained in Redis by
// an external synchronization process. Key layout, under the prefix:
//
//	<prefix>:big_segments_synchronized_on         epoch millis of last sync
//	<prefix>:big_segment_include:<contextHash>    set of included segment refs
//	<prefix>:big_segment_exclude:<contextHash>    set of excluded segment refs
type BigSegmentStore struct {
	client *redis.Client
	prefix string
}

var _ interfaces.BigSegmentStore = (*BigSegmentStore)(nil)

// NewBigSegmentStore connects to Redis and returns the membership store.
func NewBigSegmentStore(ctx context.Context, opts Options) (*BigSegmentStore, error) {
	client, err := newClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &BigSegmentStore{client: client, prefix: opts.prefix()}, nil
}

func (s *BigSegmentStore) syncTimeKey() string {
	return fmt.Sprintf("%s:big_segments_synchronized_on", s.prefix)
}

func (s *BigSegmentStore) includeKey(contextHash string) string {
	return fmt.Sprintf("%s:big_segment_include:%s", s.prefix, contextHash)
}

func (s *BigSegmentStore) excludeKey(contextHash string) string {
	return fmt.Sprintf("%s:big_segment_exclude:%s", s.prefix, contextHash)
}

// GetMetadata returns the last synchronization time. A missing key yields the
// zero time, which the manager reports as never synchronized.
func (s *BigSegmentStore) GetMetadata(ctx context.Context) (interfaces.BigSegmentStoreMetadata, error) {
	raw, err := s.client.Get(ctx, s.syncTimeKey()).Result()
	if err == redis.Nil {
		return interfaces.BigSegmentStoreMetadata{}, nil
	}
	if err != nil {
		return interfaces.BigSegmentStoreMetadata{}, fmt.Errorf("reading big segment sync time: %w", err)
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return interfaces.BigSegmentStoreMetadata{}, fmt.Errorf("malformed big segment sync time %q: %w", raw, err)
	}
	return interfaces.BigSegmentStoreMetadata{LastUpToDate: time.UnixMilli(millis)}, nil
}

// GetMembership merges the include and exclude sets for one context hash.
// Inclusion wins when a ref appears in both.
func (s *BigSegmentStore) GetMembership(ctx context.Context, contextHash string) (interfaces.BigSegmentMembership, error) {
	included, err := s.client.SMembers(ctx, s.includeKey(contextHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading big segment includes: %w", err)
	}
	excluded, err := s.client.SMembers(ctx, s.excludeKey(contextHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading big segment excludes: %w", err)
	}
	if len(included) == 0 && len(excluded) == 0 {
		return nil, nil
	}

	membership := make(interfaces.BigSegmentMembership, len(included)+len(excluded))
	for _, ref := range excluded {
		membership[ref] = false
	}
	for _, ref := range included {
		membership[ref] = true
	}
	return membership, nil
}

// Close closes the Redis client connection.
func (s *BigSegmentStore) Close() error {
	return s.client.Close()
}
