package job

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// DepositExpirer 由 service.ApprovalService 实现
type DepositExpirer interface {
	ExpireStaleDeposits(ctx context.Context, before time.Time, limit int) (int, error)
}

// DepositExpiryJob 长时间无人确认的充值申请自动取消
type DepositExpiryJob struct {
	expirer   DepositExpirer
	ttl       time.Duration
	log       zerolog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

func NewDepositExpiryJob(expirer DepositExpirer, ttl time.Duration, log zerolog.Logger) *DepositExpiryJob {
	return &DepositExpiryJob{
		expirer:   expirer,
		ttl:       ttl,
		log:       log,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 100,
		now:       time.Now,
	}
}

func (j *DepositExpiryJob) Start(ctx context.Context) {
	j.log.Info().Dur("ttl", j.ttl).Msg("充值超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info().Msg("任务停止")
			return
		case <-ticker.C:
			j.expire(ctx)
		}
	}
}

func (j *DepositExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *DepositExpiryJob) expire(ctx context.Context) {
	before := j.now().Add(-j.ttl)
	cancelled, err := j.expirer.ExpireStaleDeposits(ctx, before, j.batchSize)
	if err != nil {
		j.log.Error().Err(err).Msg("取消超时充值失败")
		return
	}
	if cancelled > 0 {
		j.log.Info().Int("count", cancelled).Msg("本次取消超时充值")
	}
}
