package job

import (
	"context"
	"time"

	"marketpay/internal/repository"
	"marketpay/internal/service"

	"github.com/rs/zerolog"
)

// BalanceReconciler 由 service.LedgerService 实现
type BalanceReconciler interface {
	Reconcile(ctx context.Context, accountID int64) (*service.ReconcileResult, error)
}

// ReconcileJob 定期比对账户缓存余额和账本余额，只报告不修正
type ReconcileJob struct {
	accounts   repository.AccountRepository
	reconciler BalanceReconciler
	log        zerolog.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewReconcileJob(accounts repository.AccountRepository, reconciler BalanceReconciler, interval time.Duration, log zerolog.Logger) *ReconcileJob {
	return &ReconcileJob{
		accounts:   accounts,
		reconciler: reconciler,
		log:        log,
		stopCh:     make(chan struct{}),
		interval:   interval,
		batchSize:  200,
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info().Dur("interval", j.interval).Msg("对账任务启动")

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
			j.RunOnce(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce 遍历全部账户一次，返回发现差额的账户数
func (j *ReconcileJob) RunOnce(ctx context.Context) int {
	var afterID int64
	checked, drifted := 0, 0

	for {
		accounts, err := j.accounts.ListAfter(ctx, afterID, j.batchSize)
		if err != nil {
			j.log.Error().Err(err).Int64("after_id", afterID).Msg("查询账户失败")
			return drifted
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			afterID = account.ID
			result, err := j.reconciler.Reconcile(ctx, account.ID)
			if err != nil {
				j.log.Error().Err(err).Int64("account_id", account.ID).Msg("对账失败")
				continue
			}
			checked++
			if !result.Consistent {
				drifted++
				j.log.Warn().
					Int64("account_id", account.ID).
					Str("role", account.Role).
					Str("wallet_balance", result.WalletBalance.String()).
					Str("ledger_balance", result.LedgerBalance.String()).
					Str("drift", result.Drift.String()).
					Msg("缓存余额与账本不一致")
			}
		}

		if ctx.Err() != nil {
			return drifted
		}
	}

	j.log.Info().Int("checked", checked).Int("drifted", drifted).Msg("对账完成")
	return drifted
}
