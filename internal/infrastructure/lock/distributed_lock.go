package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ============================================================================
// 付款申请锁
// ============================================================================
//
// 两个管理员同时点"通过"时，数据库的条件更新已经能保证只有一个成功。
// 这里再加一把非阻塞锁，让后到的请求直接返回"处理中"，而不是排队等行锁。
//
// 加锁：SET key value NX EX ttl，value 是本次持有者的随机标识
// 解锁：Lua 脚本比较 value 后再删除，避免锁过期后误删别人的锁
//
// ============================================================================

var ErrLockBusy = errors.New("资源正在处理中，请稍后重试")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Locker 非阻塞互斥锁，拿不到锁时返回 ErrLockBusy
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// PaymentLockKey 按付款申请维度加锁
func PaymentLockKey(paymentNo string) string {
	return fmt.Sprintf("marketpay:lock:payment:%s", paymentNo)
}

// OrderLockKey 按订单维度加锁，串行化同一订单的状态迁移
func OrderLockKey(orderNo string) string {
	return fmt.Sprintf("marketpay:lock:order:%s", orderNo)
}

type RedisLocker struct {
	client     redis.Cmdable
	expiration time.Duration
	log        zerolog.Logger
}

func NewRedisLocker(client redis.Cmdable, expiration time.Duration, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		client:     client,
		expiration: expiration,
		log:        log,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	value := uuid.NewString()

	// 过期时间兜底：持有者崩溃后锁自动释放
	ok, err := l.client.SetNX(ctx, key, value, l.expiration).Result()
	if err != nil {
		return nil, fmt.Errorf("获取分布式锁失败: %w", err)
	}
	if !ok {
		return nil, ErrLockBusy
	}

	release := func() {
		// 请求 ctx 可能已取消，释放锁用独立的超时
		unlockCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := l.client.Eval(unlockCtx, unlockScript, []string{key}, value).Err(); err != nil {
			l.log.Warn().Err(err).Str("key", key).Msg("释放分布式锁失败")
		}
	}
	return release, nil
}

// LocalLocker 进程内实现，未配置 Redis 的单实例部署使用
type LocalLocker struct {
	mu sync.Map
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	v, _ := l.mu.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, ErrLockBusy
	}
	return mu.Unlock, nil
}
