package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"mind-ease/domain"
	"mind-ease/tasks"
	"mind-ease/userinfo"
)

type backend interface {
	tasks.Persistence
	userinfo.Persistence
}

// Cache wraps a backend with Redis-backed caching of task lists and
// profiles. Every write evicts the affected key.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

var (
	_ tasks.Persistence    = (*Cache)(nil)
	_ userinfo.Persistence = (*Cache)(nil)
)

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// A zero TTL disables caching of reads.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	var cached []domain.Task
	if c.load(ctx, tasksCacheKey(userID), &cached) {
		return cached, nil
	}
	list, err := c.base.ListTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(userID), list)
	return list, nil
}

func (c *Cache) CreateTask(ctx context.Context, userID string, draft domain.TaskDraft) (domain.Task, error) {
	t, err := c.base.CreateTask(ctx, userID, draft)
	c.evict(ctx, tasksCacheKey(userID))
	return t, err
}

func (c *Cache) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) error {
	defer c.evict(ctx, tasksCacheKey(userID))
	return c.base.UpdateTask(ctx, userID, taskID, patch)
}

func (c *Cache) DeleteTask(ctx context.Context, userID, taskID string) error {
	defer c.evict(ctx, tasksCacheKey(userID))
	return c.base.DeleteTask(ctx, userID, taskID)
}

func (c *Cache) MoveTask(ctx context.Context, userID, taskID string, status domain.Status, order int) error {
	defer c.evict(ctx, tasksCacheKey(userID))
	return c.base.MoveTask(ctx, userID, taskID, status, order)
}

func (c *Cache) SetSubtasks(ctx context.Context, userID, taskID string, subtasks []domain.Subtask) error {
	defer c.evict(ctx, tasksCacheKey(userID))
	return c.base.SetSubtasks(ctx, userID, taskID, subtasks)
}

func (c *Cache) IncrementCompletedPomodoro(ctx context.Context, userID, taskID string, previous int) error {
	defer c.evict(ctx, tasksCacheKey(userID))
	return c.base.IncrementCompletedPomodoro(ctx, userID, taskID, previous)
}

func (c *Cache) ReorderTasks(ctx context.Context, userID string, changes []tasks.OrderChange) error {
	defer c.evict(ctx, tasksCacheKey(userID))
	return c.base.ReorderTasks(ctx, userID, changes)
}

func (c *Cache) GetUserInfo(ctx context.Context, userID string) (*domain.UserInfo, error) {
	var cached domain.UserInfo
	if c.load(ctx, profileCacheKey(userID), &cached) {
		return &cached, nil
	}
	info, err := c.base.GetUserInfo(ctx, userID)
	if err != nil || info == nil {
		return info, err
	}
	c.store(ctx, profileCacheKey(userID), info)
	return info, nil
}

func (c *Cache) CreateUserInfo(ctx context.Context, info domain.UserInfo) error {
	defer c.evict(ctx, profileCacheKey(info.ID))
	return c.base.CreateUserInfo(ctx, info)
}

func (c *Cache) UpdateCognitivePreferences(ctx context.Context, userID string, patch domain.PreferencesPatch) error {
	defer c.evict(ctx, profileCacheKey(userID))
	return c.base.UpdateCognitivePreferences(ctx, userID, patch)
}

func (c *Cache) SetNavigationProfile(ctx context.Context, userID string, p domain.NavigationProfile) error {
	defer c.evict(ctx, profileCacheKey(userID))
	return c.base.SetNavigationProfile(ctx, userID, p)
}

func (c *Cache) SetSpecificNeeds(ctx context.Context, userID string, needs []string) error {
	defer c.evict(ctx, profileCacheKey(userID))
	return c.base.SetSpecificNeeds(ctx, userID, needs)
}

func (c *Cache) load(ctx context.Context, key string, v any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(context.WithoutCancel(ctx), key).Result()
}

func tasksCacheKey(userID string) string {
	return "tasks:" + userID
}

func profileCacheKey(userID string) string {
	return "profile:" + userID
}
