package gallows

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// RedisStorage keeps buckets in Redis. Bucket names live in a sorted set
// scored by creation time; each bucket is a pair of hashes, one holding
// page metadata and one holding bodies, both keyed by "METHOD URL".
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "gallows"
	}
	return &RedisStorage{client: client, prefix: prefix}
}

type redisPage struct {
	Method string              `yaml:"method"`
	URL    string              `yaml:"url"`
	Status int                 `yaml:"status"`
	Header map[string][]string `yaml:"header"`
	Stored int64               `yaml:"stored"`
}

func (s *RedisStorage) bucketsKey() string {
	return s.prefix + ":buckets"
}

func (s *RedisStorage) metaKey(name string) string {
	return s.prefix + ":bucket:" + name
}

func (s *RedisStorage) bodyKey(name string) string {
	return s.prefix + ":body:" + name
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Bucket, error) {
	err := s.client.ZAddNX(ctx, s.bucketsKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, errors.Wrapf(err, "open bucket %s", name)
	}
	return &redisBucket{s: s, name: name}, nil
}

func (s *RedisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.bucketsKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list buckets")
	}
	return names, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.bucketsKey(), name)
		pipe.Del(ctx, s.metaKey(name), s.bodyKey(name))
		return nil
	})
	if err != nil {
		return false, errors.Wrapf(err, "delete bucket %s", name)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Match(ctx context.Context, req *http.Request) (Page, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return Page{}, err
	}
	for _, name := range names {
		b := &redisBucket{s: s, name: name}
		page, err := b.Match(ctx, req)
		if err == nil {
			return page, nil
		}
		if err != ErrNotFound {
			return Page{}, err
		}
	}
	return Page{}, ErrNotFound
}

type redisBucket struct {
	s    *RedisStorage
	name string
}

func (b *redisBucket) Name() string {
	return b.name
}

func (b *redisBucket) AddAll(ctx context.Context, pages []Page) error {
	type encoded struct {
		field string
		meta  []byte
		body  []byte
	}
	records := make([]encoded, 0, len(pages))
	for _, page := range pages {
		method := page.Method
		if method == "" {
			method = http.MethodGet
		}
		stored := page.Stored
		if stored.IsZero() {
			stored = time.Now()
		}
		meta, err := yaml.Marshal(redisPage{
			Method: method,
			URL:    page.URL,
			Status: page.Status,
			Header: page.Header,
			Stored: stored.UnixNano(),
		})
		if err != nil {
			return errors.Wrapf(err, "encode %s", page.URL)
		}
		records = append(records, encoded{method + " " + page.URL, meta, page.Body})
	}

	_, err := b.s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			pipe.HSet(ctx, b.s.metaKey(b.name), r.field, r.meta)
			pipe.HSet(ctx, b.s.bodyKey(b.name), r.field, r.body)
		}
		return nil
	})
	return errors.Wrapf(err, "store %d pages in %s", len(pages), b.name)
}

func (b *redisBucket) Put(ctx context.Context, page Page) error {
	return b.AddAll(ctx, []Page{page})
}

func (b *redisBucket) Match(ctx context.Context, req *http.Request) (Page, error) {
	method, key, ok := requestKey(req)
	if !ok {
		return Page{}, ErrNotFound
	}
	field := method + " " + key

	meta, err := b.s.client.HGet(ctx, b.s.metaKey(b.name), field).Bytes()
	if err == redis.Nil {
		return Page{}, ErrNotFound
	}
	if err != nil {
		return Page{}, err
	}
	body, err := b.s.client.HGet(ctx, b.s.bodyKey(b.name), field).Bytes()
	if err != nil && err != redis.Nil {
		return Page{}, err
	}

	var rp redisPage
	if err := yaml.Unmarshal(meta, &rp); err != nil {
		return Page{}, errors.Wrapf(err, "decode %s", field)
	}
	return Page{
		Method: rp.Method,
		URL:    rp.URL,
		Status: rp.Status,
		Header: http.Header(rp.Header),
		Body:   body,
		Stored: time.Unix(0, rp.Stored),
	}, nil
}

// Keys returns stored URLs sorted, since Redis hashes are unordered.
func (b *redisBucket) Keys(ctx context.Context) ([]string, error) {
	values, err := b.s.client.HVals(ctx, b.s.metaKey(b.name)).Result()
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(values))
	for _, v := range values {
		var rp redisPage
		if err := yaml.Unmarshal([]byte(v), &rp); err != nil {
			return nil, err
		}
		urls = append(urls, rp.URL)
	}
	sort.Strings(urls)
	return urls, nil
}
