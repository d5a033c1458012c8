package service

import (
	"context"
	"fmt"
	"strings"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/rs/zerolog"
)

// Actor 当前操作人，来自 JWT
type Actor struct {
	ID   int64
	Role string
}

func (a Actor) IsAdmin() bool {
	return a.Role == model.RoleAdmin
}

func (a Actor) IsSeller() bool {
	return a.Role == model.RoleSeller || a.Role == model.RoleAdmin
}

type AccountService struct {
	store    repository.Store
	currency string
	log      zerolog.Logger
}

func NewAccountService(store repository.Store, currency string, log zerolog.Logger) *AccountService {
	return &AccountService{
		store:    store,
		currency: currency,
		log:      log,
	}
}

// GetAccount 当前用户的钱包账户，第一次访问时按配置币种创建
func (s *AccountService) GetAccount(ctx context.Context, actor Actor) (*model.Account, error) {
	return s.store.Accounts().GetOrCreate(ctx, actor.ID, actor.Role, s.currency)
}

// EnsurePlatformAccount 启动时创建佣金入账的平台账户
func (s *AccountService) EnsurePlatformAccount(ctx context.Context, accountID int64) error {
	if _, err := s.store.Accounts().GetOrCreate(ctx, accountID, model.RoleAdmin, s.currency); err != nil {
		return fmt.Errorf("初始化平台账户失败: %w", err)
	}
	return nil
}

type BankAccountRequest struct {
	BankName      string `json:"bankName" binding:"required"`
	AccountNumber string `json:"accountNumber" binding:"required"`
	AccountHolder string `json:"accountHolder" binding:"required"`
	Branch        string `json:"branch"`
}

type BankAccountView struct {
	AccountID   int64             `json:"account_id"`
	BankAccount model.BankAccount `json:"bank_account"`
	Verified    bool              `json:"verified"`
}

// UpsertBankAccount 更新卖家收款账户，修改后需要管理员重新认证
func (s *AccountService) UpsertBankAccount(ctx context.Context, actor Actor, req *BankAccountRequest) (*BankAccountView, error) {
	bank := model.BankAccount{
		BankName:      strings.TrimSpace(req.BankName),
		AccountNumber: strings.TrimSpace(req.AccountNumber),
		AccountHolder: strings.TrimSpace(req.AccountHolder),
		Branch:        strings.TrimSpace(req.Branch),
	}
	if bank.BankName == "" || bank.AccountNumber == "" || bank.AccountHolder == "" {
		return nil, ErrBankAccountRequired
	}

	if _, err := s.GetAccount(ctx, actor); err != nil {
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}
	if err := s.store.Accounts().UpdateBankAccount(ctx, actor.ID, bank); err != nil {
		return nil, fmt.Errorf("更新收款账户失败: %w", err)
	}

	s.log.Info().Int64("account_id", actor.ID).Str("bank", bank.BankName).Msg("收款账户已更新")
	return &BankAccountView{AccountID: actor.ID, BankAccount: bank}, nil
}

func (s *AccountService) GetBankAccount(ctx context.Context, actor Actor) (*BankAccountView, error) {
	account, err := s.GetAccount(ctx, actor)
	if err != nil {
		return nil, err
	}
	return &BankAccountView{
		AccountID:   account.ID,
		BankAccount: account.BankAccount,
		Verified:    account.BankVerified,
	}, nil
}

// VerifyBankAccount 管理员认证卖家收款账户
func (s *AccountService) VerifyBankAccount(ctx context.Context, adminID, accountID int64) (*BankAccountView, error) {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.BankAccount.IsEmpty() {
		return nil, ErrBankAccountRequired
	}

	if err := s.store.Accounts().SetBankVerified(ctx, accountID, true); err != nil {
		return nil, fmt.Errorf("认证收款账户失败: %w", err)
	}

	s.log.Info().Int64("account_id", accountID).Int64("admin_id", adminID).Msg("收款账户已认证")
	return &BankAccountView{
		AccountID:   accountID,
		BankAccount: account.BankAccount,
		Verified:    true,
	}, nil
}
