package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/shopspring/decimal"
)

// PaymentEvent 付款申请状态变化事件
type PaymentEvent struct {
	EventType  string          `json:"event_type"`
	PaymentNo  string          `json:"payment_no"`
	AccountID  int64           `json:"account_id"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	OrderNo    string          `json:"order_no,omitempty"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// PayoutEvent 订单签收后生成的卖家结算申请
type PayoutEvent struct {
	SellerID  int64           `json:"seller_id"`
	PaymentNo string          `json:"payment_no"`
	Amount    decimal.Decimal `json:"amount"`
}

// CommissionEvent 订单佣金入账事件
type CommissionEvent struct {
	EventType  string          `json:"event_type"`
	OrderNo    string          `json:"order_no"`
	PaymentNo  string          `json:"payment_no"`
	OrderTotal decimal.Decimal `json:"order_total"`
	Rate       decimal.Decimal `json:"rate"`
	Amount     decimal.Decimal `json:"amount"`
	Payouts    []PayoutEvent   `json:"payouts"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func paymentEvent(eventType string, p *model.PaymentRequest, status string, change repository.StatusChange) *PaymentEvent {
	return &PaymentEvent{
		EventType:  eventType,
		PaymentNo:  p.PaymentNo,
		AccountID:  p.AccountID,
		Type:       p.Type,
		Status:     status,
		Amount:     p.Amount,
		OrderNo:    p.OrderNo,
		ActorID:    change.ActorID,
		Notes:      change.Notes,
		OccurredAt: change.At,
	}
}

// enqueueEvent 写 outbox，必须在业务事务内调用
func enqueueEvent(ctx context.Context, tx repository.Store, topic, eventType, key string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(payloadBytes),
		Status:     model.OutboxStatusPending,
	}
	if err := tx.Outbox().Create(ctx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
