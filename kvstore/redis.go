/*
Copyright © 2025 Redis Performance Group  <performance <at> redis <dot> com>
*/
package kvstore

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	PoolSize        int
	// Namespace prefixes every Redis key the store touches.
	Namespace string
}

// RedisDB implements DB on a single Redis node. Values live in plain string
// keys, ordering comes from a sorted-set index read with ZRANGEBYLEX, and
// isolation from WATCH + MULTI/EXEC.
type RedisDB struct {
	client     *redis.Client
	valuePfx   string
	indexKey   string
	versionKey string
}

var _ DB = (*RedisDB)(nil)

func NewRedisDBFromURI(uri string, config RedisConfig) (*RedisDB, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing redis uri %q", uri)
	}
	// Apply configurable timeouts and retry settings
	opts.DialTimeout = config.DialTimeout
	opts.ReadTimeout = config.ReadTimeout
	opts.WriteTimeout = config.WriteTimeout
	opts.ConnMaxIdleTime = config.ConnMaxIdleTime
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.MinRetryBackoff
	opts.MaxRetryBackoff = config.MaxRetryBackoff
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	return newRedisDB(redis.NewClient(opts), config.Namespace), nil
}

func newRedisDB(client *redis.Client, namespace string) *RedisDB {
	if namespace == "" {
		namespace = "mako-bench"
	}
	return &RedisDB{
		client:     client,
		valuePfx:   namespace + ":k:",
		indexKey:   namespace + ":idx",
		versionKey: namespace + ":version",
	}
}

// Ping checks connectivity.
func (r *RedisDB) Ping(ctx context.Context) error {
	return translateRedisError(r.client.Ping(ctx).Err())
}

func (r *RedisDB) NewTransaction() Transaction {
	return &redisTxn{db: r}
}

func (r *RedisDB) Name() string {
	return "Redis"
}

func (r *RedisDB) Close() error {
	return r.client.Close()
}

func (r *RedisDB) valueKey(key []byte) string {
	return r.valuePfx + string(key)
}

// lexRange converts a KeyRange into ZRANGEBYLEX bounds.
func lexRange(kr KeyRange) (min, max string) {
	return "[" + string(kr.Begin), "(" + string(kr.End)
}

type redisTxn struct {
	db   *RedisDB
	conn *redis.Conn

	writes  []mutation
	backoff backoff
}

// connection pins a pooled connection for the lifetime of the attempt so
// that WATCH state survives until EXEC.
func (t *redisTxn) connection() *redis.Conn {
	if t.conn == nil {
		t.conn = t.db.client.Conn()
	}
	return t.conn
}

func (t *redisTxn) watch(ctx context.Context, keys ...string) error {
	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, "watch")
	for _, k := range keys {
		args = append(args, k)
	}
	cmd := redis.NewStatusCmd(ctx, args...)
	_ = t.connection().Process(ctx, cmd)
	return translateRedisError(cmd.Err())
}

func (t *redisTxn) release(ctx context.Context) {
	if t.conn == nil {
		return
	}
	_ = t.conn.Process(ctx, redis.NewStatusCmd(ctx, "unwatch"))
	_ = t.conn.Close()
	t.conn = nil
}

func (t *redisTxn) GetReadVersion(ctx context.Context) (int64, error) {
	v, err := t.connection().Get(ctx, t.db.versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, translateRedisError(err)
}

func (t *redisTxn) Get(ctx context.Context, key []byte, snapshot bool) ([]byte, error) {
	for i := len(t.writes) - 1; i >= 0; i-- {
		m := &t.writes[i]
		switch {
		case m.typ == mutationSet && string(m.key) == string(key):
			return cloneBytes(m.value), nil
		case m.typ == mutationClear && string(m.key) == string(key):
			return nil, nil
		case m.typ == mutationClearRange && m.r.Contains(key):
			return nil, nil
		}
	}
	vk := t.db.valueKey(key)
	if !snapshot {
		if err := t.watch(ctx, vk); err != nil {
			return nil, err
		}
	}
	v, err := t.connection().Get(ctx, vk).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, translateRedisError(err)
	}
	return v, nil
}

func (t *redisTxn) GetRange(
	ctx context.Context, kr KeyRange, limit int, snapshot bool,
) ([]KeyValue, error) {
	if !snapshot {
		if err := t.watch(ctx, t.db.indexKey); err != nil {
			return nil, err
		}
	}
	if kr.Empty() {
		return nil, nil
	}
	min, max := lexRange(kr)
	by := &redis.ZRangeBy{Min: min, Max: max}
	if limit > 0 && len(t.writes) == 0 {
		by.Count = int64(limit)
	}
	conn := t.connection()
	members, err := conn.ZRangeByLex(ctx, t.db.indexKey, by).Result()
	if err != nil {
		return nil, translateRedisError(err)
	}

	rows := make(map[string][]byte, len(members))
	if len(members) > 0 {
		vkeys := make([]string, len(members))
		for i, m := range members {
			vkeys[i] = t.db.valuePfx + m
		}
		vals, err := conn.MGet(ctx, vkeys...).Result()
		if err != nil {
			return nil, translateRedisError(err)
		}
		for i, v := range vals {
			if s, ok := v.(string); ok {
				rows[members[i]] = []byte(s)
			}
		}
	}
	for i := range t.writes {
		m := &t.writes[i]
		switch m.typ {
		case mutationSet:
			if kr.Contains(m.key) {
				rows[string(m.key)] = m.value
			}
		case mutationClear:
			delete(rows, string(m.key))
		case mutationClearRange:
			for k := range rows {
				if m.r.Contains([]byte(k)) {
					delete(rows, k)
				}
			}
		}
	}
	return sortedRows(rows, limit), nil
}

func (t *redisTxn) Set(key, value []byte) {
	t.writes = append(t.writes, mutation{typ: mutationSet, key: cloneBytes(key), value: cloneBytes(value)})
}

func (t *redisTxn) Clear(key []byte) {
	t.writes = append(t.writes, mutation{typ: mutationClear, key: cloneBytes(key)})
}

func (t *redisTxn) ClearRange(kr KeyRange) {
	t.writes = append(t.writes, mutation{
		typ: mutationClearRange,
		r:   KeyRange{Begin: cloneBytes(kr.Begin), End: cloneBytes(kr.End)},
	})
}

// resolveClears expands every range clear into the member list it covers.
// The index is watched first so that a concurrent insert into a cleared
// range aborts the commit instead of leaking a value key.
func (t *redisTxn) resolveClears(ctx context.Context) ([][]string, error) {
	resolved := make([][]string, len(t.writes))
	watched := false
	for i := range t.writes {
		m := &t.writes[i]
		if m.typ != mutationClearRange || m.r.Empty() {
			continue
		}
		if !watched {
			if err := t.watch(ctx, t.db.indexKey); err != nil {
				return nil, err
			}
			watched = true
		}
		min, max := lexRange(m.r)
		members, err := t.connection().ZRangeByLex(ctx, t.db.indexKey, &redis.ZRangeBy{Min: min, Max: max}).Result()
		if err != nil {
			return nil, translateRedisError(err)
		}
		for j := 0; j < i; j++ {
			if p := &t.writes[j]; p.typ == mutationSet && m.r.Contains(p.key) {
				members = append(members, string(p.key))
			}
		}
		resolved[i] = members
	}
	return resolved, nil
}

func (t *redisTxn) Commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return ctx.Err()
	}
	clears, err := t.resolveClears(ctx)
	if err != nil {
		return err
	}
	db := t.db
	_, err = t.connection().TxPipelined(ctx, func(p redis.Pipeliner) error {
		for i := range t.writes {
			m := &t.writes[i]
			switch m.typ {
			case mutationSet:
				p.Set(ctx, db.valueKey(m.key), m.value, 0)
				p.ZAdd(ctx, db.indexKey, redis.Z{Score: 0, Member: string(m.key)})
			case mutationClear:
				p.Del(ctx, db.valueKey(m.key))
				p.ZRem(ctx, db.indexKey, string(m.key))
			case mutationClearRange:
				if members := clears[i]; len(members) > 0 {
					vkeys := make([]string, len(members))
					for j, mem := range members {
						vkeys[j] = db.valuePfx + mem
					}
					p.Del(ctx, vkeys...)
				}
				if !m.r.Empty() {
					min, max := lexRange(m.r)
					p.ZRemRangeByLex(ctx, db.indexKey, min, max)
				}
			}
		}
		p.Incr(ctx, db.versionKey)
		return nil
	})
	if err != nil {
		return translateRedisError(err)
	}
	// EXEC dropped every watch; hand the connection back.
	t.release(ctx)
	t.backoff.reset()
	return nil
}

func (t *redisTxn) Reset() {
	t.release(context.Background())
	t.writes = nil
}

func (t *redisTxn) OnError(ctx context.Context, err error) error {
	return handleError(ctx, &t.backoff, err, t.Reset)
}

func translateRedisError(err error) error {
	var netErr net.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return errors.Wrap(ErrNotCommitted, "redis exec aborted")
	case errors.Is(err, redis.ErrPoolTimeout),
		errors.Is(err, io.EOF),
		errors.As(err, &netErr):
		return MarkRetryable(errors.Wrap(err, "redis"))
	default:
		return errors.Wrap(err, "redis")
	}
}
