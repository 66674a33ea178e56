package migrate

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	RunDir string
	// LockTTL 迁移期间持有的虚拟机锁的过期时间
	LockTTL time.Duration

	PollInterval    time.Duration
	MinPollInterval time.Duration
	// LogEvery 每隔多少次轮询输出一次进度
	LogEvery int
	// StallThreshold 剩余内存连续多少次未减少后加倍 downtime
	StallThreshold int
	Downtime       time.Duration
	MaxDowntime    time.Duration
	// FallbackBWLimitKiB 没有配置限速时使用，0 表示不限
	FallbackBWLimitKiB int64
	XBZRLECacheMin     int64
	// QueryRetries query-migrate 连续失败的容忍次数
	QueryRetries int

	SocketWaitRetries  int
	SocketWaitInterval time.Duration
	StartTimeout       time.Duration
	CleanupTimeout     time.Duration
}

func NewConfig(conf *viper.Viper) Config {
	return Config{
		RunDir:             conf.GetString("node.run_dir"),
		LockTTL:            conf.GetDuration("node.lock_ttl"),
		PollInterval:       conf.GetDuration("migrate.poll_interval"),
		MinPollInterval:    conf.GetDuration("migrate.min_poll_interval"),
		LogEvery:           conf.GetInt("migrate.log_every"),
		StallThreshold:     conf.GetInt("migrate.stall_threshold"),
		Downtime:           conf.GetDuration("migrate.downtime"),
		MaxDowntime:        conf.GetDuration("migrate.max_downtime"),
		FallbackBWLimitKiB: conf.GetInt64("migrate.fallback_bwlimit_kib"),
		XBZRLECacheMin:     conf.GetInt64("migrate.xbzrle_cache_min"),
		SocketWaitRetries:  conf.GetInt("migrate.socket_wait_retries"),
		SocketWaitInterval: conf.GetDuration("migrate.socket_wait_interval"),
	}
}

func (c *Config) setDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Hour
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = 500 * time.Millisecond
	}
	if c.MinPollInterval > c.PollInterval {
		c.MinPollInterval = c.PollInterval
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 5
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 5
	}
	if c.Downtime <= 0 {
		c.Downtime = 100 * time.Millisecond
	}
	if c.MaxDowntime <= 0 {
		c.MaxDowntime = 30 * time.Second
	}
	if c.MaxDowntime < c.Downtime {
		c.MaxDowntime = c.Downtime
	}
	if c.XBZRLECacheMin <= 0 {
		c.XBZRLECacheMin = 64 * 1024 * 1024
	}
	if c.QueryRetries <= 0 {
		c.QueryRetries = 5
	}
	if c.SocketWaitRetries <= 0 {
		c.SocketWaitRetries = 50
	}
	if c.SocketWaitInterval <= 0 {
		c.SocketWaitInterval = 100 * time.Millisecond
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 5 * time.Minute
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 2 * time.Minute
	}
}
