package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusReturned   = "returned"
)

// ValidStatusTransitions 订单状态机
// 佣金只在 shipped -> delivered 这一次迁移时入账
var ValidStatusTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusReturned},
}

func IsValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

type Order struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo     string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	RequestID   string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	CustomerID  int64           `gorm:"index;not null" json:"customer_id"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	Status      string          `gorm:"type:varchar(20);index;not null" json:"status"`
	Items       []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64           `gorm:"index;not null" json:"order_id"`
	SellerID  int64           `gorm:"index;not null" json:"seller_id"`
	ProductID string          `gorm:"type:varchar(64);not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Total     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// CalculateTotals 重新计算行小计和订单总额
func (o *Order) CalculateTotals() {
	total := decimal.Zero
	for i := range o.Items {
		item := &o.Items[i]
		item.Total = item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(item.Total)
	}
	o.TotalAmount = total
}

// SellerTotals 按卖家汇总金额，返回的卖家顺序与商品首次出现的顺序一致
func (o *Order) SellerTotals() ([]int64, map[int64]decimal.Decimal) {
	var sellers []int64
	totals := make(map[int64]decimal.Decimal)
	for _, item := range o.Items {
		if _, ok := totals[item.SellerID]; !ok {
			sellers = append(sellers, item.SellerID)
			totals[item.SellerID] = decimal.Zero
		}
		totals[item.SellerID] = totals[item.SellerID].Add(item.Total)
	}
	return sellers, totals
}

func (o *Order) HasSeller(userID int64) bool {
	for _, item := range o.Items {
		if item.SellerID == userID {
			return true
		}
	}
	return false
}
