package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pvemigrate/pkg/qmp"

	"github.com/duke-git/lancet/v2/formatter"
	"go.uber.org/zap"
)

type ramStats struct {
	Transferred    int64   `json:"transferred"`
	Remaining      int64   `json:"remaining"`
	Total          int64   `json:"total"`
	Mbps           float64 `json:"mbps"`
	DirtyPagesRate int64   `json:"dirty-pages-rate"`
}

type xbzrleStats struct {
	CacheMiss int64 `json:"cache-miss"`
	Overflow  int64 `json:"overflow"`
}

type migrateStats struct {
	Status    string       `json:"status"`
	ErrorDesc string       `json:"error-desc,omitempty"`
	TotalTime int64        `json:"total-time,omitempty"`
	Downtime  int64        `json:"downtime,omitempty"`
	RAM       *ramStats    `json:"ram,omitempty"`
	XBZRLE    *xbzrleStats `json:"xbzrle-cache,omitempty"`
}

// convergence 轮询过程中的统计
type convergence struct {
	interval time.Duration
	polls    int
	active   int
	lastRem  int64
	stalled  int
	queryErr int
}

// converge 轮询 query-migrate 直到完成；剩余内存持续不减少时加倍 downtime
func (r *run) converge(ctx context.Context) error {
	m := r.m
	logger := m.logger.WithContext(ctx)
	peer := qmp.MonitorPeer(r.task.VMID)
	c := &convergence{interval: m.conf.PollInterval, lastRem: -1}

	timer := time.NewTimer(c.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		c.polls++

		ret, err := m.mon.Cmd(ctx, peer, "query-migrate", nil)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.queryErr++
			logger.Warn("query migrate failed", zap.Int("failures", c.queryErr), zap.Error(err))
			if c.queryErr > m.conf.QueryRetries {
				return fmt.Errorf("too many query migrate failures - aborting: %w", err)
			}
			timer.Reset(c.interval)
			continue
		}
		c.queryErr = 0

		var st migrateStats
		if err := json.Unmarshal(ret, &st); err != nil {
			return fmt.Errorf("unable to parse migration status: %w", err)
		}
		switch st.Status {
		case "setup":
			logger.Info("migration status: setup")
		case "active", "device", "pre-switchover", "postcopy-active":
			r.observe(ctx, c, &st)
		case "completed":
			fields := []zap.Field{zap.Int64("downtime_ms", st.Downtime), zap.Duration("total_time", time.Duration(st.TotalTime)*time.Millisecond)}
			if st.RAM != nil {
				fields = append(fields, zap.String("transferred", formatter.BinaryBytes(float64(st.RAM.Transferred))))
			}
			logger.Info("migration completed", fields...)
			return nil
		case "failed", "cancelled":
			return &ConvergenceError{Status: st.Status, Desc: st.ErrorDesc}
		default:
			return &ConvergenceError{Status: st.Status, Desc: "unknown migration status"}
		}
		timer.Reset(c.interval)
	}
}

func (r *run) observe(ctx context.Context, c *convergence, st *migrateStats) {
	m := r.m
	logger := m.logger.WithContext(ctx)
	c.active++
	if st.RAM == nil {
		return
	}
	rem, trans := st.RAM.Remaining, st.RAM.Transferred

	// 剩余量小于平均每次轮询的传输量时加快轮询
	avg := trans / int64(c.active)
	if avg > 0 && rem < avg && c.interval > m.conf.MinPollInterval {
		c.interval /= 2
		if c.interval < m.conf.MinPollInterval {
			c.interval = m.conf.MinPollInterval
		}
	}

	if c.lastRem >= 0 {
		if rem >= c.lastRem {
			c.stalled++
		} else {
			c.stalled = 0
		}
	}
	c.lastRem = rem

	if c.active%m.conf.LogEvery == 0 {
		fields := []zap.Field{
			zap.String("transferred", formatter.BinaryBytes(float64(trans))),
			zap.String("remaining", formatter.BinaryBytes(float64(rem))),
			zap.String("total", formatter.BinaryBytes(float64(st.RAM.Total))),
			zap.String("speed", fmt.Sprintf("%.2f MiB/s", st.RAM.Mbps/8)),
			zap.Int64("dirty_pages_rate", st.RAM.DirtyPagesRate),
		}
		if st.XBZRLE != nil && st.XBZRLE.CacheMiss > 0 {
			fields = append(fields, zap.Int64("xbzrle_cache_miss", st.XBZRLE.CacheMiss), zap.Int64("xbzrle_overflow", st.XBZRLE.Overflow))
		}
		logger.Info("migration active", fields...)
	}

	if c.stalled > m.conf.StallThreshold {
		c.stalled = 0
		r.increaseDowntime(ctx)
	}
}

func (r *run) increaseDowntime(ctx context.Context) {
	m := r.m
	logger := m.logger.WithContext(ctx)
	next := r.downtime * 2
	if next > m.conf.MaxDowntime {
		next = m.conf.MaxDowntime
	}
	if next == r.downtime {
		logger.Warn("migration not converging, downtime limit already at maximum", zap.Int64("downtime_ms", r.downtime.Milliseconds()))
		return
	}
	r.downtime = next
	logger.Info("auto-increased downtime to continue migration", zap.Int64("downtime_ms", next.Milliseconds()))
	_, err := m.mon.Cmd(ctx, qmp.MonitorPeer(r.task.VMID), "migrate-set-parameters", map[string]interface{}{
		"downtime-limit": next.Milliseconds(),
	})
	if err != nil {
		logger.Warn("unable to set downtime limit", zap.Error(err))
	}
}
