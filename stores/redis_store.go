package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permission"
)

// RedisDefinitionStore keeps each document in a hash (key: permdef:{name}),
// the name index in a set, and per-name history in a list, newest first.
type RedisDefinitionStore struct {
	client   *redis.Client
	docFmt   string // format string, e.g. "permdef:%s"
	histFmt  string // format string, e.g. "permdef:history:%s"
	indexKey string
}

func NewRedisDefinitionStore(client *redis.Client) *RedisDefinitionStore {
	return &RedisDefinitionStore{
		client:   client,
		docFmt:   "permdef:%s",
		histFmt:  "permdef:history:%s",
		indexKey: "permdef:names",
	}
}

func (r *RedisDefinitionStore) docKey(name string) string {
	return fmt.Sprintf(r.docFmt, name)
}

func (r *RedisDefinitionStore) histKey(name string) string {
	return fmt.Sprintf(r.histFmt, name)
}

type redisHistoryEntry struct {
	Revision  int             `json:"revision"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
	Payload   json.RawMessage `json:"payload"`
}

func (r *RedisDefinitionStore) Save(ctx context.Context, name string, cfg *permission.Config) (*Definition, error) {
	payload, checksum, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}

	// revisions continue from the history, so a deleted name never reuses one
	rev := 1
	newest, err := r.client.LIndex(ctx, r.histKey(name), 0).Result()
	if err == nil {
		var last redisHistoryEntry
		if err := json.Unmarshal([]byte(newest), &last); err != nil {
			return nil, err
		}
		rev = last.Revision + 1
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	now := time.Now().UTC()
	fields := map[string]any{
		"revision":   rev,
		"payload":    string(payload),
		"checksum":   checksum,
		"updated_at": now.Format(time.RFC3339Nano),
	}
	if err := r.client.HSet(ctx, r.docKey(name), fields).Err(); err != nil {
		return nil, err
	}
	if err := r.client.SAdd(ctx, r.indexKey, name).Err(); err != nil {
		return nil, err
	}
	entry, err := json.Marshal(redisHistoryEntry{Revision: rev, Checksum: checksum, UpdatedAt: now, Payload: payload})
	if err != nil {
		return nil, err
	}
	if err := r.client.LPush(ctx, r.histKey(name), string(entry)).Err(); err != nil {
		return nil, err
	}

	stored, err := decodeConfig(payload)
	if err != nil {
		return nil, err
	}
	return &Definition{Name: name, Config: stored, Revision: rev, Checksum: checksum, UpdatedAt: now}, nil
}

func (r *RedisDefinitionStore) Get(ctx context.Context, name string) (*Definition, error) {
	fields, err := r.client.HGetAll(ctx, r.docKey(name)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	rev, _ := strconv.Atoi(fields["revision"])
	cfg, err := decodeConfig([]byte(fields["payload"]))
	if err != nil {
		return nil, err
	}
	updated, _ := parseFlexibleTime(fields["updated_at"])
	return &Definition{
		Name:      name,
		Config:    cfg,
		Revision:  rev,
		Checksum:  fields["checksum"],
		UpdatedAt: updated,
	}, nil
}

func (r *RedisDefinitionStore) List(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.indexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisDefinitionStore) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.docKey(name)).Err(); err != nil {
		return err
	}
	return r.client.SRem(ctx, r.indexKey, name).Err()
}

func (r *RedisDefinitionStore) History(ctx context.Context, name string, limit int) ([]*Definition, error) {
	raw, err := r.client.LRange(ctx, r.histKey(name), 0, int64(historyLimit(limit))-1).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	// LPUSH stores newest first; walk backwards for ascending revisions
	out := make([]*Definition, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var entry redisHistoryEntry
		if err := json.Unmarshal([]byte(raw[i]), &entry); err != nil {
			return nil, err
		}
		cfg, err := decodeConfig(entry.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, &Definition{
			Name:      name,
			Config:    cfg,
			Revision:  entry.Revision,
			Checksum:  entry.Checksum,
			UpdatedAt: entry.UpdatedAt,
		})
	}
	return out, nil
}
