package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/task-api/domain"
)

// Owner lists live under their own prefix so no owner id can name the
// all-tasks list or the index.
const (
	cacheIndexKey   = "tasks:index"
	allTasksKey     = "tasks:all"
	ownerListPrefix = "tasks:owner:"
)

// Cache wraps a TaskStorage with Redis-backed caching for task lists.
// Single task reads always go to the base storage; any write drops every cached list.
type Cache struct {
	base  domain.TaskStorage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.TaskStorage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) error {
	if err := c.base.InsertTask(ctx, t); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) SaveTask(ctx context.Context, t domain.Task, appended []domain.ActivityEntry) error {
	if err := c.base.SaveTask(ctx, t, appended); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, id string) (bool, error) {
	ok, err := c.base.DeleteTask(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		c.evict(ctx)
	}
	return ok, nil
}

func (c *Cache) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx, owner); ok {
		return tasks, nil
	}
	tasks, err := c.base.ListTasks(ctx, owner)
	if err != nil {
		return nil, err
	}
	c.storeTasks(ctx, owner, tasks)
	return tasks, nil
}

func (c *Cache) loadTasks(ctx context.Context, owner string) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := tasksCacheKey(owner)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeTasks(ctx context.Context, owner string, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	key := tasksCacheKey(owner)
	_, err = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, cacheIndexKey, key)
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("cache store failed")
	}
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	keys, err := c.redis.SMembers(ctx, cacheIndexKey).Result()
	if err != nil && err != redis.Nil {
		log.WithError(err).Warn("cache index read failed")
		return
	}
	if err := c.redis.Del(ctx, append(keys, cacheIndexKey)...).Err(); err != nil {
		log.WithError(err).Warn("cache eviction failed")
	}
}

func tasksCacheKey(owner string) string {
	if owner == "" {
		return allTasksKey
	}
	return ownerListPrefix + owner
}
