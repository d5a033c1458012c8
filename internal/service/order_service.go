package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"marketpay/internal/infrastructure/lock"
	"marketpay/internal/model"
	"marketpay/internal/repository"
	"marketpay/pkg/idgen"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type OrderService struct {
	store      repository.Store
	accounts   *AccountService
	commission *CommissionService
	refund     *RefundService
	locker     lock.Locker
	log        zerolog.Logger
}

func NewOrderService(store repository.Store, accounts *AccountService, commission *CommissionService, refund *RefundService, locker lock.Locker, log zerolog.Logger) *OrderService {
	return &OrderService{
		store:      store,
		accounts:   accounts,
		commission: commission,
		refund:     refund,
		locker:     locker,
		log:        log,
	}
}

type OrderItemRequest struct {
	SellerID  int64           `json:"sellerId" binding:"required,gt=0"`
	ProductID string          `json:"productId" binding:"required,max=64"`
	Quantity  int             `json:"quantity" binding:"required,gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type CreateOrderRequest struct {
	RequestID string             `json:"requestId" binding:"required,max=64"`
	Items     []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// CreateOrder 下单，同一个 requestId 重复提交返回已有订单
func (s *OrderService) CreateOrder(ctx context.Context, actor Actor, req *CreateOrderRequest) (*model.Order, error) {
	existingOrder, err := s.store.Orders().GetByRequestID(ctx, req.RequestID)
	if err != nil {
		return nil, err
	}
	if existingOrder != nil {
		if existingOrder.CustomerID != actor.ID {
			return nil, ErrForbidden
		}
		return existingOrder, nil
	}

	if len(req.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	items := make([]model.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		if !item.Price.IsPositive() || item.Quantity <= 0 {
			return nil, ErrInvalidAmount
		}
		items = append(items, model.OrderItem{
			SellerID:  item.SellerID,
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	order := &model.Order{
		OrderNo:    idgen.GenerateNo(idgen.PrefixOrder),
		RequestID:  req.RequestID,
		CustomerID: actor.ID,
		Status:     model.OrderStatusPending,
		Items:      items,
	}
	order.CalculateTotals()

	if _, err := s.accounts.GetAccount(ctx, actor); err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	if err := s.store.Orders().Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 并发重复提交
			existingOrder, getErr := s.store.Orders().GetByRequestID(ctx, req.RequestID)
			if getErr == nil && existingOrder != nil && existingOrder.CustomerID == actor.ID {
				return existingOrder, nil
			}
		}
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	s.log.Info().
		Str("order_no", order.OrderNo).
		Int64("customer_id", actor.ID).
		Str("total", order.TotalAmount.String()).
		Msg("订单已创建")
	return order, nil
}

// GetOrder 买家、订单里的卖家和管理员可见
func (s *OrderService) GetOrder(ctx context.Context, actor Actor, orderNo string) (*model.Order, error) {
	order, err := s.store.Orders().GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && order.CustomerID != actor.ID && !order.HasSeller(actor.ID) {
		return nil, ErrForbidden
	}
	return order, nil
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type OrderStatusResult struct {
	Order      *model.Order      `json:"order"`
	Commission *CommissionResult `json:"commission,omitempty"`
	Refund     *RefundResult     `json:"refund,omitempty"`
}

// canMove 取消由买家发起；退货和其余推进由订单里的卖家确认；管理员不受限
func canMove(actor Actor, order *model.Order, target string) bool {
	if actor.IsAdmin() {
		return true
	}
	if target == model.OrderStatusCancelled {
		return order.CustomerID == actor.ID
	}
	return actor.IsSeller() && order.HasSeller(actor.ID)
}

// UpdateStatus 推进订单状态
//
// shipped -> delivered 在同一事务里记佣金、生成卖家结算；
// delivered -> returned 在同一事务里按实际扣款退给买家，并撤销未打款的卖家结算。
func (s *OrderService) UpdateStatus(ctx context.Context, actor Actor, orderNo, status string) (*OrderStatusResult, error) {
	if !model.IsValidOrderStatus(status) {
		return nil, ErrInvalidStatus
	}

	release, err := s.locker.Acquire(ctx, lock.OrderLockKey(orderNo))
	if err != nil {
		if errors.Is(err, lock.ErrLockBusy) {
			return nil, ErrSystemBusy
		}
		return nil, err
	}
	defer release()

	order, err := s.store.Orders().GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if !canMove(actor, order, status) {
		return nil, ErrForbidden
	}
	if !model.CanTransitionTo(order.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", repository.ErrOrderStatusInvalid, order.Status, status)
	}

	from := order.Status
	result := &OrderStatusResult{}
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.Orders().UpdateStatus(ctx, orderNo, from, status); err != nil {
			return err
		}

		var err error
		switch {
		case from == model.OrderStatusShipped && status == model.OrderStatusDelivered:
			result.Commission, err = s.commission.PostForOrder(ctx, tx, order)
		case status == model.OrderStatusReturned:
			result.Refund, err = s.refund.RefundForOrder(ctx, tx, order)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_no", orderNo).
		Str("from", from).
		Str("to", status).
		Int64("actor_id", actor.ID).
		Msg("订单状态已更新")

	result.Order, err = s.store.Orders().GetByOrderNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	return result, nil
}
