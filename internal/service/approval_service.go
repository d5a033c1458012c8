package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/infrastructure/lock"
	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/rs/zerolog"
)

// ============================================================================
// 审核流程
// ============================================================================
//
// 通过一笔申请 = 一个事务：
//   1. 条件更新 status pending -> completed（影响行数为 0 说明已被处理）
//   2. 锁账户行，按上一条流水计算并追加新流水
//   3. 充值同步更新账户缓存余额
//   4. 写 outbox 事件
//
// 任何一步失败整体回滚，不会出现"流水写了、缓存余额没加"的情况。
//
// ============================================================================

type ApprovalService struct {
	store  repository.Store
	ledger *LedgerService
	locker lock.Locker
	topic  string
	log    zerolog.Logger
	now    func() time.Time
}

func NewApprovalService(store repository.Store, ledger *LedgerService, locker lock.Locker, cfg *config.KafkaConfig, log zerolog.Logger) *ApprovalService {
	return &ApprovalService{
		store:  store,
		ledger: ledger,
		locker: locker,
		topic:  cfg.Topic.PaymentEvents,
		log:    log,
		now:    time.Now,
	}
}

func (s *ApprovalService) acquire(ctx context.Context, paymentNo string) (func(), error) {
	release, err := s.locker.Acquire(ctx, lock.PaymentLockKey(paymentNo))
	if err != nil {
		if errors.Is(err, lock.ErrLockBusy) {
			return nil, ErrSystemBusy
		}
		return nil, err
	}
	return release, nil
}

// loadPending 读取申请并校验类型和状态
func (s *ApprovalService) loadPending(ctx context.Context, paymentNo, paymentType string) (*model.PaymentRequest, error) {
	payment, err := s.store.Payments().GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return nil, err
	}
	if paymentType != "" && payment.Type != paymentType {
		return nil, ErrPaymentTypeMismatch
	}
	if payment.Status != model.PaymentStatusPending {
		return nil, repository.ErrPaymentStatusInvalid
	}
	return payment, nil
}

// ApproveDeposit 确认充值到账：记充值流水并增加缓存余额
func (s *ApprovalService) ApproveDeposit(ctx context.Context, adminID int64, paymentNo, notes string) (*model.PaymentRequest, error) {
	release, err := s.acquire(ctx, paymentNo)
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := s.loadPending(ctx, paymentNo, model.PaymentTypeDeposit)
	if err != nil {
		return nil, err
	}

	change := repository.StatusChange{ActorID: &adminID, At: s.now(), Notes: strings.TrimSpace(notes)}
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Payments().TransitionStatus(ctx, paymentNo, model.PaymentStatusPending, model.PaymentStatusCompleted, change); err != nil {
			return err
		}

		_, err := s.ledger.AppendEntry(ctx, tx, EntryInput{
			AccountID:   payment.AccountID,
			Kind:        model.EntryKindDeposit,
			Amount:      payment.Amount,
			Description: fmt.Sprintf("Wallet deposit - %s", payment.Method),
			PaymentNo:   paymentNo,
		})
		if err != nil {
			return err
		}

		if err := tx.Accounts().IncreaseWallet(ctx, payment.AccountID, payment.Amount); err != nil {
			return fmt.Errorf("更新钱包余额失败: %w", err)
		}

		event := paymentEvent(model.EventPaymentApproved, payment, model.PaymentStatusCompleted, change)
		return enqueueEvent(ctx, tx, s.topic, model.EventPaymentApproved, paymentNo, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("payment_no", paymentNo).
		Int64("account_id", payment.AccountID).
		Int64("admin_id", adminID).
		Str("amount", payment.Amount.String()).
		Msg("充值已确认")
	return s.store.Payments().GetByPaymentNo(ctx, paymentNo)
}

// ApproveSellerPayment 确认卖家结算已打款：在卖家账户记一笔提现流水
//
// 缓存余额不变：卖家的货款从未计入 wallet_balance，这里沿用现有行为，
// 对账任务会把这部分差额报告出来。
func (s *ApprovalService) ApproveSellerPayment(ctx context.Context, adminID int64, paymentNo, notes string) (*model.PaymentRequest, error) {
	release, err := s.acquire(ctx, paymentNo)
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := s.loadPending(ctx, paymentNo, model.PaymentTypeWithdrawal)
	if err != nil {
		return nil, err
	}

	sellerID := payment.AccountID
	if payment.SellerID != nil {
		sellerID = *payment.SellerID
	}

	change := repository.StatusChange{ActorID: &adminID, At: s.now(), Notes: strings.TrimSpace(notes)}
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Payments().TransitionStatus(ctx, paymentNo, model.PaymentStatusPending, model.PaymentStatusCompleted, change); err != nil {
			return err
		}

		_, err := s.ledger.AppendEntry(ctx, tx, EntryInput{
			AccountID:   sellerID,
			Kind:        model.EntryKindWithdrawal,
			Amount:      payment.Amount,
			Description: fmt.Sprintf("Payout for order #%s", payment.OrderNo),
			OrderNo:     payment.OrderNo,
			PaymentNo:   paymentNo,
		})
		if err != nil {
			return err
		}

		event := paymentEvent(model.EventPaymentApproved, payment, model.PaymentStatusCompleted, change)
		return enqueueEvent(ctx, tx, s.topic, model.EventPaymentApproved, paymentNo, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("payment_no", paymentNo).
		Int64("seller_id", sellerID).
		Int64("admin_id", adminID).
		Str("amount", payment.Amount.String()).
		Msg("卖家结算已确认")
	return s.store.Payments().GetByPaymentNo(ctx, paymentNo)
}

// Reject 拒绝申请，不产生流水也不动余额
func (s *ApprovalService) Reject(ctx context.Context, adminID int64, paymentNo, reason string) (*model.PaymentRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	release, err := s.acquire(ctx, paymentNo)
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := s.loadPending(ctx, paymentNo, "")
	if err != nil {
		return nil, err
	}

	change := repository.StatusChange{ActorID: &adminID, At: s.now(), Notes: reason}
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Payments().TransitionStatus(ctx, paymentNo, model.PaymentStatusPending, model.PaymentStatusFailed, change); err != nil {
			return err
		}
		event := paymentEvent(model.EventPaymentRejected, payment, model.PaymentStatusFailed, change)
		return enqueueEvent(ctx, tx, s.topic, model.EventPaymentRejected, paymentNo, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("payment_no", paymentNo).Int64("admin_id", adminID).Str("reason", reason).Msg("申请已拒绝")
	return s.store.Payments().GetByPaymentNo(ctx, paymentNo)
}

// Cancel 用户撤回自己尚未审核的充值申请
func (s *ApprovalService) Cancel(ctx context.Context, actor Actor, paymentNo string) (*model.PaymentRequest, error) {
	release, err := s.acquire(ctx, paymentNo)
	if err != nil {
		return nil, err
	}
	defer release()

	payment, err := s.store.Payments().GetByPaymentNo(ctx, paymentNo)
	if err != nil {
		return nil, err
	}
	if payment.AccountID != actor.ID {
		return nil, ErrForbidden
	}
	if payment.Type != model.PaymentTypeDeposit {
		return nil, ErrPaymentTypeMismatch
	}
	if payment.Status != model.PaymentStatusPending {
		return nil, repository.ErrPaymentStatusInvalid
	}

	if err := s.cancel(ctx, payment, "用户撤回"); err != nil {
		return nil, err
	}

	s.log.Info().Str("payment_no", paymentNo).Int64("account_id", actor.ID).Msg("充值申请已撤回")
	return s.store.Payments().GetByPaymentNo(ctx, paymentNo)
}

func (s *ApprovalService) cancel(ctx context.Context, payment *model.PaymentRequest, notes string) error {
	change := repository.StatusChange{At: s.now(), Notes: notes}
	return s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Payments().TransitionStatus(ctx, payment.PaymentNo, model.PaymentStatusPending, model.PaymentStatusCancelled, change); err != nil {
			return err
		}
		event := paymentEvent(model.EventPaymentCancelled, payment, model.PaymentStatusCancelled, change)
		return enqueueEvent(ctx, tx, s.topic, model.EventPaymentCancelled, payment.PaymentNo, event)
	})
}

// ExpireStaleDeposits 取消创建时间早于 before 的待审核充值，返回取消的条数
func (s *ApprovalService) ExpireStaleDeposits(ctx context.Context, before time.Time, limit int) (int, error) {
	payments, err := s.store.Payments().ListStalePending(ctx, model.PaymentTypeDeposit, before, limit)
	if err != nil {
		return 0, fmt.Errorf("查询超时充值失败: %w", err)
	}

	cancelled := 0
	for _, payment := range payments {
		release, err := s.acquire(ctx, payment.PaymentNo)
		if err != nil {
			// 管理员正在处理，下一轮再看
			s.log.Debug().Str("payment_no", payment.PaymentNo).Err(err).Msg("跳过超时充值")
			continue
		}

		err = s.cancel(ctx, payment, "超时未确认，自动取消")
		release()
		if err != nil {
			if !errors.Is(err, repository.ErrPaymentStatusInvalid) {
				s.log.Error().Str("payment_no", payment.PaymentNo).Err(err).Msg("取消超时充值失败")
			}
			continue
		}
		cancelled++
		s.log.Info().Str("payment_no", payment.PaymentNo).Int64("account_id", payment.AccountID).Msg("充值申请超时已取消")
	}
	return cancelled, nil
}
