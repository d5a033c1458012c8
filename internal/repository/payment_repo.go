package repository

import (
	"context"
	"errors"
	"time"

	"marketpay/internal/model"

	"gorm.io/gorm"
)

type PaymentRepo struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func (r *PaymentRepo) Create(ctx context.Context, payment *model.PaymentRequest) error {
	err := r.db.WithContext(ctx).Create(payment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

func (r *PaymentRepo) GetByPaymentNo(ctx context.Context, paymentNo string) (*model.PaymentRequest, error) {
	var payment model.PaymentRequest
	err := r.db.WithContext(ctx).Where("payment_no = ?", paymentNo).Take(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *PaymentRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.PaymentRequest, error) {
	var payment model.PaymentRequest
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

// TransitionStatus 带条件更新：WHERE payment_no = ? AND status = ?
// 并发审核同一笔申请时只有一个能更新成功
func (r *PaymentRepo) TransitionStatus(ctx context.Context, paymentNo, from, to string, change StatusChange) error {
	if !model.CanPaymentTransitionTo(from, to) {
		return ErrPaymentStatusInvalid
	}

	updates := map[string]interface{}{
		"status": to,
	}
	if change.ActorID != nil {
		updates["approved_by"] = *change.ActorID
		updates["approved_at"] = change.At
	}
	if change.Notes != "" {
		updates["notes"] = change.Notes
	}

	result := r.db.WithContext(ctx).
		Model(&model.PaymentRequest{}).
		Where("payment_no = ? AND status = ?", paymentNo, from).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrPaymentStatusInvalid
	}

	return nil
}

func (r *PaymentRepo) List(ctx context.Context, filter PaymentFilter, page, pageSize int) ([]*model.PaymentRequest, int64, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var payments []*model.PaymentRequest
	var total int64

	query := r.db.WithContext(ctx).Model(&model.PaymentRequest{})
	if filter.AccountID != 0 {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.SellerID != 0 {
		query = query.Where("seller_id = ?", filter.SellerID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.OrderNo != "" {
		query = query.Where("order_no = ?", filter.OrderNo)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&payments).Error

	return payments, total, err
}

func (r *PaymentRepo) ListCommissions(ctx context.Context, from, to *time.Time) ([]*model.PaymentRequest, error) {
	var payments []*model.PaymentRequest

	query := r.db.WithContext(ctx).Where("type = ?", model.PaymentTypeCommission)
	if from != nil {
		query = query.Where("created_at >= ?", *from)
	}
	if to != nil {
		query = query.Where("created_at <= ?", *to)
	}

	err := query.Order("created_at DESC").Find(&payments).Error
	return payments, err
}

func (r *PaymentRepo) ListStalePending(ctx context.Context, paymentType string, before time.Time, limit int) ([]*model.PaymentRequest, error) {
	var payments []*model.PaymentRequest
	err := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND created_at < ?", paymentType, model.PaymentStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}
