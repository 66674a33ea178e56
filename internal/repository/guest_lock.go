package repository

import (
	"context"
	"fmt"
	"time"

	"pvemigrate/internal/collab"

	"github.com/redis/go-redis/v9"
)

// lockClient GuestLock 用到的 redis 命令
type lockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// 只有持有者才能释放
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// GuestLock 按虚拟机的互斥锁，SET NX PX 实现，实现 collab.Locker
type GuestLock struct {
	rdb    lockClient
	prefix string
}

func NewGuestLock(r *Repository) collab.Locker {
	return &GuestLock{rdb: r.rdb, prefix: "pvemigrate:lock:guest:"}
}

func (l *GuestLock) key(vmid uint32) string {
	return fmt.Sprintf("%s%d", l.prefix, vmid)
}

func (l *GuestLock) Lock(ctx context.Context, vmid uint32, owner string, ttl time.Duration) (func(context.Context) error, error) {
	key := l.key(vmid)
	ok, err := l.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("unable to acquire lock for VM %d: %w", vmid, err)
	}
	if !ok {
		return nil, fmt.Errorf("VM %d: %w", vmid, collab.ErrLocked)
	}
	unlock := func(ctx context.Context) error {
		n, err := l.rdb.Eval(ctx, unlockScript, []string{key}, owner).Int64()
		if err != nil {
			return fmt.Errorf("unable to release lock for VM %d: %w", vmid, err)
		}
		if n == 0 {
			return fmt.Errorf("lock for VM %d expired or taken over", vmid)
		}
		return nil
	}
	return unlock, nil
}
