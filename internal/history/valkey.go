package history

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyConfig configures the Valkey backend.
type ValkeyConfig struct {
	// URL is the Valkey server address (e.g., "localhost:6379")
	URL string `yaml:"url"`

	// Password is the optional password for Valkey authentication
	Password string `yaml:"password"`

	// TLSEnabled enables TLS for Valkey connections
	TLSEnabled bool `yaml:"tls"`

	// KeyPrefix is the prefix for all keys (default: "inboxtriage:")
	KeyPrefix string `yaml:"key_prefix"`

	// DB is the Valkey database number (default: 0)
	DB int `yaml:"db"`
}

// ValkeyBackend stores history as one string value per thread plus a
// sorted set of thread ids scored by update time, used for pruning.
type ValkeyBackend struct {
	client valkey.Client
	prefix string
}

// OpenValkey connects to the configured server.
func OpenValkey(cfg ValkeyConfig) (*ValkeyBackend, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("valkey URL is required")
	}
	opt := valkey.ClientOption{
		InitAddress: []string{cfg.URL},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	}
	if cfg.TLSEnabled {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}
	return NewValkeyBackend(client, cfg.KeyPrefix), nil
}

// NewValkeyBackend wraps an existing client.
func NewValkeyBackend(client valkey.Client, prefix string) *ValkeyBackend {
	if prefix == "" {
		prefix = "inboxtriage:"
	}
	return &ValkeyBackend{client: client, prefix: prefix}
}

func (b *ValkeyBackend) key(threadID string) string {
	return b.prefix + "history:" + threadID
}

func (b *ValkeyBackend) indexKey() string {
	return b.prefix + "history:index"
}

func (b *ValkeyBackend) Load(ctx context.Context, threadID string) ([]byte, error) {
	data, err := b.client.Do(ctx, b.client.B().Get().Key(b.key(threadID)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", threadID, err)
	}
	return data, nil
}

func (b *ValkeyBackend) Save(ctx context.Context, threadID string, data []byte, updatedAt time.Time) error {
	cmds := valkey.Commands{
		b.client.B().Set().Key(b.key(threadID)).Value(valkey.BinaryString(data)).Build(),
		b.client.B().Zadd().Key(b.indexKey()).ScoreMember().ScoreMember(float64(updatedAt.UnixMilli()), threadID).Build(),
	}
	for _, resp := range b.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			if isOOM(err) {
				return fmt.Errorf("save %s: %w", threadID, ErrCapacity)
			}
			return fmt.Errorf("save %s: %w", threadID, err)
		}
	}
	return nil
}

func (b *ValkeyBackend) Delete(ctx context.Context, threadID string) error {
	return b.deleteMany(ctx, []string{threadID})
}

func (b *ValkeyBackend) deleteMany(ctx context.Context, threadIDs []string) error {
	if len(threadIDs) == 0 {
		return nil
	}
	keys := make([]string, len(threadIDs))
	for i, id := range threadIDs {
		keys[i] = b.key(id)
	}
	cmds := valkey.Commands{
		b.client.B().Del().Key(keys...).Build(),
		b.client.B().Zrem().Key(b.indexKey()).Member(threadIDs...).Build(),
	}
	for _, resp := range b.client.DoMulti(ctx, cmds...) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}
	return nil
}

func (b *ValkeyBackend) Prune(ctx context.Context, olderThan time.Time, keep int) (int, error) {
	// Exclusive upper bound: records updated exactly at olderThan stay.
	maxScore := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	stale, err := b.client.Do(ctx, b.client.B().Zrangebyscore().Key(b.indexKey()).Min("-inf").Max(maxScore).Build()).AsStrSlice()
	if err != nil {
		return 0, fmt.Errorf("prune by age: %w", err)
	}
	if err := b.deleteMany(ctx, stale); err != nil {
		return 0, err
	}
	removed := len(stale)

	if keep > 0 {
		count, err := b.client.Do(ctx, b.client.B().Zcard().Key(b.indexKey()).Build()).AsInt64()
		if err != nil {
			return removed, fmt.Errorf("prune by count: %w", err)
		}
		if excess := int(count) - keep; excess > 0 {
			oldest, err := b.client.Do(ctx, b.client.B().Zrange().Key(b.indexKey()).Min("0").Max(strconv.Itoa(excess-1)).Build()).AsStrSlice()
			if err != nil {
				return removed, fmt.Errorf("prune by count: %w", err)
			}
			if err := b.deleteMany(ctx, oldest); err != nil {
				return removed, err
			}
			removed += len(oldest)
		}
	}
	return removed, nil
}

func (b *ValkeyBackend) Close() error {
	b.client.Close()
	return nil
}

func isOOM(err error) bool {
	if ve, ok := valkey.IsValkeyErr(err); ok {
		return strings.HasPrefix(ve.Error(), "OOM")
	}
	return false
}
