package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketpay/internal/config"
	"marketpay/internal/model"
	"marketpay/internal/repository"
	"marketpay/pkg/idgen"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PaymentService 付款申请的创建与查询，审核流程见 ApprovalService
type PaymentService struct {
	store repository.Store
	cfg   *config.BusinessConfig
	log   zerolog.Logger
	now   func() time.Time
}

func NewPaymentService(store repository.Store, cfg *config.BusinessConfig, log zerolog.Logger) *PaymentService {
	return &PaymentService{
		store: store,
		cfg:   cfg,
		log:   log,
		now:   time.Now,
	}
}

type DepositRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" binding:"required,oneof=bank_transfer cash"`
	Description string          `json:"description" binding:"max=256"`
}

// CreateDeposit 用户提交充值申请，等待管理员确认到账
func (s *PaymentService) CreateDeposit(ctx context.Context, actor Actor, req *DepositRequest) (*model.PaymentRequest, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	minDeposit := s.cfg.MinDepositDecimal()
	if req.Amount.LessThan(minDeposit) {
		return nil, fmt.Errorf("%w: 最低 %s", ErrAmountTooSmall, minDeposit.String())
	}
	if req.Method != model.PaymentMethodBankTransfer && req.Method != model.PaymentMethodCash {
		return nil, ErrInvalidMethod
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Wallet deposit - %s", req.Method)
	}

	if _, err := s.store.Accounts().GetOrCreate(ctx, actor.ID, actor.Role, s.cfg.Currency); err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	payment := &model.PaymentRequest{
		PaymentNo:   idgen.GenerateNo(idgen.PrefixDeposit),
		AccountID:   actor.ID,
		Amount:      req.Amount,
		Type:        model.PaymentTypeDeposit,
		Status:      model.PaymentStatusPending,
		Method:      req.Method,
		Description: description,
	}
	if err := s.store.Payments().Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("创建充值申请失败: %w", err)
	}

	s.log.Info().
		Str("payment_no", payment.PaymentNo).
		Int64("account_id", actor.ID).
		Str("amount", req.Amount.String()).
		Msg("充值申请已创建")
	return payment, nil
}

// CreateSellerWithdrawal 在 tx 内为卖家生成待审核的结算申请，幂等键重复时返回已有申请
func (s *PaymentService) CreateSellerWithdrawal(ctx context.Context, tx repository.Store, sellerID int64, amount decimal.Decimal, orderNo string, bank model.BankAccount) (*model.PaymentRequest, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	key := fmt.Sprintf("payout:%s:%d", orderNo, sellerID)
	existing, err := tx.Payments().GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	seller := sellerID
	payment := &model.PaymentRequest{
		PaymentNo:      idgen.GenerateNo(idgen.PrefixWithdrawal),
		AccountID:      sellerID,
		Amount:         amount,
		Type:           model.PaymentTypeWithdrawal,
		Status:         model.PaymentStatusPending,
		Method:         model.PaymentMethodBankTransfer,
		Description:    fmt.Sprintf("Payout for order #%s", orderNo),
		SellerID:       &seller,
		OrderNo:        orderNo,
		BankAccount:    bank,
		IdempotencyKey: &key,
	}
	if err := tx.Payments().Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("创建卖家结算申请失败: %w", err)
	}
	return payment, nil
}

// CreateCommission 在 tx 内写入已完成的佣金记录，created=false 表示该订单之前已经入过账
func (s *PaymentService) CreateCommission(ctx context.Context, tx repository.Store, orderNo string, orderAmount decimal.Decimal) (payment *model.PaymentRequest, created bool, err error) {
	key := fmt.Sprintf("commission:%s", orderNo)
	existing, err := tx.Payments().GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	rate := s.cfg.CommissionRateDecimal()
	amount := commissionOf(orderAmount, rate)
	payment = &model.PaymentRequest{
		PaymentNo:   idgen.GenerateNo(idgen.PrefixCommission),
		AccountID:   s.cfg.PlatformAccountID,
		Amount:      orderAmount,
		Type:        model.PaymentTypeCommission,
		Status:      model.PaymentStatusCompleted,
		Method:      model.PaymentMethodOnlinePayment,
		Description: fmt.Sprintf("%s%% commission from order #%s", rate.Shift(2).String(), orderNo),
		OrderNo:     orderNo,
		Commission: model.Commission{
			Amount: amount,
			Rate:   rate,
		},
		IdempotencyKey: &key,
	}
	if err := tx.Payments().Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("订单佣金正在入账: %w", err)
		}
		return nil, false, fmt.Errorf("创建佣金记录失败: %w", err)
	}
	return payment, true, nil
}

type ListQuery struct {
	Page   int    `form:"page"`
	Limit  int    `form:"limit"`
	Type   string `form:"type"`
	Status string `form:"status"`
}

func (q *ListQuery) validate() error {
	if q.Type != "" && !model.IsValidPaymentType(q.Type) {
		return ErrInvalidPaymentType
	}
	if q.Status != "" && !model.IsValidPaymentStatus(q.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// History 当前用户自己的付款申请
func (s *PaymentService) History(ctx context.Context, accountID int64, q *ListQuery) ([]*model.PaymentRequest, int64, error) {
	if err := q.validate(); err != nil {
		return nil, 0, err
	}
	filter := repository.PaymentFilter{AccountID: accountID, Type: q.Type, Status: q.Status}
	return s.store.Payments().List(ctx, filter, q.Page, q.Limit)
}

// SellerPayments 卖家的结算申请
func (s *PaymentService) SellerPayments(ctx context.Context, sellerID int64, q *ListQuery) ([]*model.PaymentRequest, int64, error) {
	if err := q.validate(); err != nil {
		return nil, 0, err
	}
	filter := repository.PaymentFilter{SellerID: sellerID, Type: model.PaymentTypeWithdrawal, Status: q.Status}
	return s.store.Payments().List(ctx, filter, q.Page, q.Limit)
}

// Pending 待审核列表
func (s *PaymentService) Pending(ctx context.Context, q *ListQuery) ([]*model.PaymentRequest, int64, error) {
	q.Status = ""
	if err := q.validate(); err != nil {
		return nil, 0, err
	}
	filter := repository.PaymentFilter{Type: q.Type, Status: model.PaymentStatusPending}
	return s.store.Payments().List(ctx, filter, q.Page, q.Limit)
}

type CommissionStats struct {
	Commissions     []*model.PaymentRequest `json:"commissions"`
	TotalCommission decimal.Decimal         `json:"totalCommission"`
	Count           int                     `json:"count"`
}

// CommissionStats 区间内佣金汇总，from/to 为空表示不限
func (s *PaymentService) CommissionStats(ctx context.Context, from, to *time.Time) (*CommissionStats, error) {
	if from != nil && to != nil && from.After(*to) {
		return nil, ErrInvalidDateRange
	}

	commissions, err := s.store.Payments().ListCommissions(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("查询佣金失败: %w", err)
	}

	total := decimal.Zero
	for _, c := range commissions {
		total = total.Add(c.Commission.Amount)
	}
	if commissions == nil {
		commissions = []*model.PaymentRequest{}
	}

	return &CommissionStats{
		Commissions:     commissions,
		TotalCommission: total,
		Count:           len(commissions),
	}, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, paymentNo string) (*model.PaymentRequest, error) {
	return s.store.Payments().GetByPaymentNo(ctx, paymentNo)
}
