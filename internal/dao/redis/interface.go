// Package redis 定义缓存服务接口及其实现
// 会话副本按视图 ID 存放在缓存中，相当于浏览器端的 localStorage
package redis

import (
	"context"
	"time"
)

// CacheService 缓存服务接口
// 支持 Redis 和进程内存两种实现
type CacheService interface {
	// Set 设置键值对并指定过期时间，ttl 为 0 表示不过期
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// Get 获取键对应的值（键不存在返回空字符串和 nil）
	Get(ctx context.Context, key string) (string, error)
	// Delete 删除键（如果存在）
	Delete(ctx context.Context, key string) error
	// Close 释放底层连接
	Close() error
}

var (
	_ CacheService = (*RedisCache)(nil)
	_ CacheService = (*MemoryCache)(nil)
)
