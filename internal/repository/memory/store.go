// Package memory 进程内存储，database.driver=memory 时用于本地联调，也是服务层测试的底座。
// 事务通过快照实现：回调返回错误时整体回滚到进入事务前的状态。
// 事务外的写操作同样要拿 txMu，否则会被并发事务的回滚覆盖。
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketpay/internal/model"
	"marketpay/internal/repository"

	"github.com/shopspring/decimal"
)

type state struct {
	ledger   []*model.LedgerEntry
	payments []*model.PaymentRequest
	accounts map[int64]*model.Account
	orders   []*model.Order
	outbox   []*model.OutboxMessage

	nextLedgerID  int64
	nextPaymentID int64
	nextOrderID   int64
	nextItemID    int64
	nextOutboxID  int64
}

func newState() *state {
	return &state{accounts: make(map[int64]*model.Account)}
}

func (s *state) clone() *state {
	c := *s
	c.ledger = make([]*model.LedgerEntry, len(s.ledger))
	for i, e := range s.ledger {
		cp := *e
		c.ledger[i] = &cp
	}
	c.payments = make([]*model.PaymentRequest, len(s.payments))
	for i, p := range s.payments {
		c.payments[i] = copyPayment(p)
	}
	c.accounts = make(map[int64]*model.Account, len(s.accounts))
	for id, a := range s.accounts {
		cp := *a
		c.accounts[id] = &cp
	}
	c.orders = make([]*model.Order, len(s.orders))
	for i, o := range s.orders {
		c.orders[i] = copyOrder(o)
	}
	c.outbox = make([]*model.OutboxMessage, len(s.outbox))
	for i, m := range s.outbox {
		cp := *m
		c.outbox[i] = &cp
	}
	return &c
}

type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{data: newState(), now: time.Now}
}

func (s *Store) Ledger() repository.LedgerRepository    { return &ledgerRepo{s: s} }
func (s *Store) Payments() repository.PaymentRepository { return &paymentRepo{s: s} }
func (s *Store) Accounts() repository.AccountRepository { return &accountRepo{s: s} }
func (s *Store) Orders() repository.OrderRepository     { return &orderRepo{s: s} }
func (s *Store) Outbox() repository.OutboxRepository    { return &outboxRepo{s: s} }

// lockWrite 事务内只拿 mu；事务外先拿 txMu，等正在进行的事务提交或回滚
func (s *Store) lockWrite(inTx bool) func() {
	if !inTx {
		s.txMu.Lock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !inTx {
			s.txMu.Unlock()
		}
	}
}

func (s *Store) Transaction(ctx context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()

	if err := fn(&txStore{s}); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return ctx.Err()
}

// txStore 事务内视图，嵌套事务直接复用外层
type txStore struct {
	*Store
}

func (t *txStore) Ledger() repository.LedgerRepository { return &ledgerRepo{s: t.Store, inTx: true} }
func (t *txStore) Payments() repository.PaymentRepository {
	return &paymentRepo{s: t.Store, inTx: true}
}
func (t *txStore) Accounts() repository.AccountRepository {
	return &accountRepo{s: t.Store, inTx: true}
}
func (t *txStore) Orders() repository.OrderRepository  { return &orderRepo{s: t.Store, inTx: true} }
func (t *txStore) Outbox() repository.OutboxRepository { return &outboxRepo{s: t.Store, inTx: true} }

func (t *txStore) Transaction(_ context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

func paginate(total, page, pageSize int) (int, int) {
	page, pageSize = repository.NormalizePage(page, pageSize)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return start, end
}

// ============================================================================
// 账本
// ============================================================================

type ledgerRepo struct {
	s    *Store
	inTx bool
}

func (r *ledgerRepo) Latest(_ context.Context, accountID int64) (*model.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *model.LedgerEntry
	for _, e := range r.s.data.ledger {
		if e.AccountID != accountID {
			continue
		}
		if latest == nil || newerEntry(e, latest) {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func newerEntry(a, b *model.LedgerEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (r *ledgerRepo) Append(_ context.Context, entry *model.LedgerEntry) error {
	defer r.s.lockWrite(r.inTx)()

	for _, e := range r.s.data.ledger {
		if e.EntryNo == entry.EntryNo {
			return repository.ErrDuplicate
		}
	}

	r.s.data.nextLedgerID++
	entry.ID = r.s.data.nextLedgerID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.s.now()
	}
	cp := *entry
	r.s.data.ledger = append(r.s.data.ledger, &cp)
	return nil
}

func (r *ledgerRepo) ListByAccount(_ context.Context, accountID int64, page, pageSize int) ([]*model.LedgerEntry, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []*model.LedgerEntry
	for _, e := range r.s.data.ledger {
		if e.AccountID == accountID {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return newerEntry(matched[i], matched[j]) })

	start, end := paginate(len(matched), page, pageSize)
	return matched[start:end], int64(len(matched)), nil
}

func (r *ledgerRepo) ListByOrder(_ context.Context, accountID int64, orderNo string) ([]*model.LedgerEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var matched []*model.LedgerEntry
	for _, e := range r.s.data.ledger {
		if e.AccountID == accountID && e.OrderNo == orderNo {
			cp := *e
			matched = append(matched, &cp)
		}
	}
	return matched, nil
}

// ============================================================================
// 付款申请
// ============================================================================

type paymentRepo struct {
	s    *Store
	inTx bool
}

func copyPayment(p *model.PaymentRequest) *model.PaymentRequest {
	cp := *p
	return &cp
}

func (r *paymentRepo) find(paymentNo string) *model.PaymentRequest {
	for _, p := range r.s.data.payments {
		if p.PaymentNo == paymentNo {
			return p
		}
	}
	return nil
}

func (r *paymentRepo) Create(_ context.Context, payment *model.PaymentRequest) error {
	defer r.s.lockWrite(r.inTx)()

	for _, p := range r.s.data.payments {
		if p.PaymentNo == payment.PaymentNo {
			return repository.ErrDuplicate
		}
		if payment.IdempotencyKey != nil && p.IdempotencyKey != nil && *p.IdempotencyKey == *payment.IdempotencyKey {
			return repository.ErrDuplicate
		}
		if payment.TransactionID != nil && p.TransactionID != nil && *p.TransactionID == *payment.TransactionID {
			return repository.ErrDuplicate
		}
	}

	r.s.data.nextPaymentID++
	payment.ID = r.s.data.nextPaymentID
	now := r.s.now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	r.s.data.payments = append(r.s.data.payments, copyPayment(payment))
	return nil
}

func (r *paymentRepo) GetByPaymentNo(_ context.Context, paymentNo string) (*model.PaymentRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p := r.find(paymentNo)
	if p == nil {
		return nil, repository.ErrPaymentNotFound
	}
	return copyPayment(p), nil
}

func (r *paymentRepo) GetByIdempotencyKey(_ context.Context, key string) (*model.PaymentRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.data.payments {
		if p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			return copyPayment(p), nil
		}
	}
	return nil, nil
}

func (r *paymentRepo) TransitionStatus(_ context.Context, paymentNo, from, to string, change repository.StatusChange) error {
	if !model.CanPaymentTransitionTo(from, to) {
		return repository.ErrPaymentStatusInvalid
	}

	defer r.s.lockWrite(r.inTx)()

	p := r.find(paymentNo)
	if p == nil || p.Status != from {
		return repository.ErrPaymentStatusInvalid
	}

	p.Status = to
	if change.ActorID != nil {
		actor := *change.ActorID
		at := change.At
		p.ApprovedBy = &actor
		p.ApprovedAt = &at
	}
	if change.Notes != "" {
		p.Notes = change.Notes
	}
	p.UpdatedAt = r.s.now()
	return nil
}

func (r *paymentRepo) sorted(match func(p *model.PaymentRequest) bool) []*model.PaymentRequest {
	var matched []*model.PaymentRequest
	for _, p := range r.s.data.payments {
		if match(p) {
			matched = append(matched, copyPayment(p))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	return matched
}

func (r *paymentRepo) List(_ context.Context, filter repository.PaymentFilter, page, pageSize int) ([]*model.PaymentRequest, int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := r.sorted(func(p *model.PaymentRequest) bool {
		if filter.AccountID != 0 && p.AccountID != filter.AccountID {
			return false
		}
		if filter.SellerID != 0 && (p.SellerID == nil || *p.SellerID != filter.SellerID) {
			return false
		}
		if filter.Type != "" && p.Type != filter.Type {
			return false
		}
		if filter.Status != "" && p.Status != filter.Status {
			return false
		}
		if filter.OrderNo != "" && p.OrderNo != filter.OrderNo {
			return false
		}
		return true
	})

	start, end := paginate(len(matched), page, pageSize)
	return matched[start:end], int64(len(matched)), nil
}

func (r *paymentRepo) ListCommissions(_ context.Context, from, to *time.Time) ([]*model.PaymentRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return r.sorted(func(p *model.PaymentRequest) bool {
		if p.Type != model.PaymentTypeCommission {
			return false
		}
		if from != nil && p.CreatedAt.Before(*from) {
			return false
		}
		if to != nil && p.CreatedAt.After(*to) {
			return false
		}
		return true
	}), nil
}

func (r *paymentRepo) ListStalePending(_ context.Context, paymentType string, before time.Time, limit int) ([]*model.PaymentRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := r.sorted(func(p *model.PaymentRequest) bool {
		return p.Type == paymentType && p.Status == model.PaymentStatusPending && p.CreatedAt.Before(before)
	})
	// 最早的优先
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ============================================================================
// 账户
// ============================================================================

type accountRepo struct {
	s    *Store
	inTx bool
}

func (r *accountRepo) GetByID(_ context.Context, accountID int64) (*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.data.accounts[accountID]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// GetForUpdate 内存实现里事务已由 txMu 串行化
func (r *accountRepo) GetForUpdate(ctx context.Context, accountID int64) (*model.Account, error) {
	return r.GetByID(ctx, accountID)
}

func (r *accountRepo) GetOrCreate(_ context.Context, accountID int64, role, currency string) (*model.Account, error) {
	defer r.s.lockWrite(r.inTx)()

	a, ok := r.s.data.accounts[accountID]
	if !ok {
		if role == "" {
			role = model.RoleUser
		}
		if currency == "" {
			currency = model.DefaultCurrency
		}
		now := r.s.now()
		a = &model.Account{
			ID:            accountID,
			Role:          role,
			WalletBalance: decimal.Zero,
			Currency:      currency,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		r.s.data.accounts[accountID] = a
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepo) update(accountID int64, fn func(a *model.Account)) error {
	defer r.s.lockWrite(r.inTx)()

	a, ok := r.s.data.accounts[accountID]
	if !ok {
		return repository.ErrAccountNotFound
	}
	fn(a)
	a.UpdatedAt = r.s.now()
	return nil
}

func (r *accountRepo) IncreaseWallet(_ context.Context, accountID int64, amount decimal.Decimal) error {
	return r.update(accountID, func(a *model.Account) {
		a.WalletBalance = a.WalletBalance.Add(amount)
	})
}

func (r *accountRepo) UpdateBankAccount(_ context.Context, accountID int64, bank model.BankAccount) error {
	return r.update(accountID, func(a *model.Account) {
		a.BankAccount = bank
		a.BankVerified = false
	})
}

func (r *accountRepo) SetBankVerified(_ context.Context, accountID int64, verified bool) error {
	return r.update(accountID, func(a *model.Account) {
		a.BankVerified = verified
	})
}

func (r *accountRepo) ListAfter(_ context.Context, afterID int64, limit int) ([]*model.Account, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var accounts []*model.Account
	for id, a := range r.s.data.accounts {
		if id > afterID {
			cp := *a
			accounts = append(accounts, &cp)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	if len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

// ============================================================================
// 订单
// ============================================================================

type orderRepo struct {
	s    *Store
	inTx bool
}

func copyOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	return &cp
}

func (r *orderRepo) Create(_ context.Context, order *model.Order) error {
	defer r.s.lockWrite(r.inTx)()

	for _, o := range r.s.data.orders {
		if o.OrderNo == order.OrderNo || o.RequestID == order.RequestID {
			return repository.ErrDuplicate
		}
	}

	r.s.data.nextOrderID++
	order.ID = r.s.data.nextOrderID
	for i := range order.Items {
		r.s.data.nextItemID++
		order.Items[i].ID = r.s.data.nextItemID
		order.Items[i].OrderID = order.ID
	}
	now := r.s.now()
	order.CreatedAt = now
	order.UpdatedAt = now
	r.s.data.orders = append(r.s.data.orders, copyOrder(order))
	return nil
}

func (r *orderRepo) GetByOrderNo(_ context.Context, orderNo string) (*model.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, o := range r.s.data.orders {
		if o.OrderNo == orderNo {
			return copyOrder(o), nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (r *orderRepo) GetByRequestID(_ context.Context, requestID string) (*model.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, o := range r.s.data.orders {
		if o.RequestID == requestID {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (r *orderRepo) UpdateStatus(_ context.Context, orderNo, fromStatus, toStatus string) error {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return repository.ErrOrderStatusInvalid
	}

	defer r.s.lockWrite(r.inTx)()

	for _, o := range r.s.data.orders {
		if o.OrderNo != orderNo {
			continue
		}
		if o.Status != fromStatus {
			return repository.ErrOrderStatusInvalid
		}
		now := r.s.now()
		o.Status = toStatus
		o.UpdatedAt = now
		switch toStatus {
		case model.OrderStatusDelivered:
			o.DeliveredAt = &now
		case model.OrderStatusCancelled:
			o.CancelledAt = &now
		}
		return nil
	}
	return repository.ErrOrderStatusInvalid
}

// ============================================================================
// Outbox
// ============================================================================

type outboxRepo struct {
	s    *Store
	inTx bool
}

func (r *outboxRepo) Create(_ context.Context, msg *model.OutboxMessage) error {
	defer r.s.lockWrite(r.inTx)()

	r.s.data.nextOutboxID++
	msg.ID = r.s.data.nextOutboxID
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	now := r.s.now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	cp := *msg
	r.s.data.outbox = append(r.s.data.outbox, &cp)
	return nil
}

func (r *outboxRepo) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var messages []*model.OutboxMessage
	for _, m := range r.s.data.outbox {
		if m.Status != model.OutboxStatusPending {
			continue
		}
		cp := *m
		messages = append(messages, &cp)
		if len(messages) == limit {
			break
		}
	}
	return messages, nil
}

func (r *outboxRepo) update(id int64, fn func(m *model.OutboxMessage)) error {
	defer r.s.lockWrite(r.inTx)()

	for _, m := range r.s.data.outbox {
		if m.ID == id {
			fn(m)
			m.UpdatedAt = r.s.now()
			return nil
		}
	}
	return nil
}

func (r *outboxRepo) UpdateStatus(_ context.Context, id int64, status string) error {
	return r.update(id, func(m *model.OutboxMessage) { m.Status = status })
}

func (r *outboxRepo) IncrementRetryCount(_ context.Context, id int64) error {
	return r.update(id, func(m *model.OutboxMessage) { m.RetryCount++ })
}

func (r *outboxRepo) MarkAsFailed(_ context.Context, id int64) error {
	return r.update(id, func(m *model.OutboxMessage) { m.Status = model.OutboxStatusFailed })
}

// OutboxMessages 返回全部消息快照，便于排查
func (s *Store) OutboxMessages() []*model.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.OutboxMessage, 0, len(s.data.outbox))
	for _, m := range s.data.outbox {
		cp := *m
		out = append(out, &cp)
	}
	return out
}
