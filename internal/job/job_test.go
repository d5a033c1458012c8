package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketpay/internal/infrastructure/mq"
	"marketpay/internal/model"
	"marketpay/internal/repository"
	"marketpay/internal/repository/memory"
	"marketpay/internal/service"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key, value string) error {
	args := m.Called(topic, key, value)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) ExpireStaleDeposits(ctx context.Context, before time.Time, limit int) (int, error) {
	args := m.Called(before, limit)
	return args.Int(0), args.Error(1)
}

func enqueue(t *testing.T, store *memory.Store, key string) {
	t.Helper()
	require.NoError(t, store.Outbox().Create(context.Background(), &model.OutboxMessage{
		MessageKey: key,
		Topic:      "marketpay.payment",
		EventType:  model.EventPaymentApproved,
		Payload:    `{"payment_no":"` + key + `"}`,
	}))
}

func TestOutboxSender_DeliversThroughKafka(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "DEP1")
	enqueue(t, store, "DEP2")

	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()
	producer.ExpectSendMessageAndSucceed()

	sender := NewOutboxSender(store.Outbox(), mq.NewKafkaPublisher(producer, zerolog.Nop()), 3, zerolog.Nop())
	sender.processPendingMessages(context.Background())

	for _, msg := range store.OutboxMessages() {
		assert.Equal(t, model.OutboxStatusSent, msg.Status)
	}
	require.NoError(t, producer.Close())
}

func TestOutboxSender_MarksFailedAfterMaxRetries(t *testing.T) {
	store := memory.NewStore()
	enqueue(t, store, "DEP1")

	publisher := &MockPublisher{}
	publisher.On("Publish", "marketpay.payment", "DEP1", mock.Anything).Return(sarama.ErrOutOfBrokers)

	sender := NewOutboxSender(store.Outbox(), publisher, 2, zerolog.Nop())
	ctx := context.Background()

	sender.processPendingMessages(ctx)
	msgs := store.OutboxMessages()
	assert.Equal(t, model.OutboxStatusPending, msgs[0].Status)
	assert.Equal(t, 1, msgs[0].RetryCount)

	sender.processPendingMessages(ctx)
	msgs = store.OutboxMessages()
	assert.Equal(t, model.OutboxStatusFailed, msgs[0].Status)

	// 失败的消息不再重试
	sender.processPendingMessages(ctx)
	publisher.AssertNumberOfCalls(t, "Publish", 2)
}

func TestOutboxSender_StartStop(t *testing.T) {
	store := memory.NewStore()
	publisher := &MockPublisher{}
	sender := NewOutboxSender(store.Outbox(), publisher, 3, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		sender.Start(context.Background())
		close(done)
	}()
	sender.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sender did not stop")
	}
}

func TestDepositExpiryJob(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	expirer := &MockExpirer{}
	expirer.On("ExpireStaleDeposits", now.Add(-72*time.Hour), 100).Return(2, nil).Once()
	expirer.On("ExpireStaleDeposits", now.Add(-72*time.Hour), 100).Return(0, errors.New("db down")).Once()

	j := NewDepositExpiryJob(expirer, 72*time.Hour, zerolog.Nop())
	j.now = func() time.Time { return now }

	j.expire(context.Background())
	j.expire(context.Background())
	expirer.AssertExpectations(t)
}

func TestReconcileJob_ReportsDrift(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	ledger := service.NewLedgerService(store, "VND", zerolog.Nop())

	// 账户 1 一致，账户 2 缓存余额漂移
	for _, id := range []int64{1, 2} {
		id := id
		err := store.Transaction(ctx, func(tx repository.Store) error {
			if _, err := ledger.AppendEntry(ctx, tx, service.EntryInput{
				AccountID: id,
				Kind:      model.EntryKindDeposit,
				Amount:    decimal.NewFromInt(1000),
			}); err != nil {
				return err
			}
			return tx.Accounts().IncreaseWallet(ctx, id, decimal.NewFromInt(1000))
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Accounts().IncreaseWallet(ctx, 2, decimal.NewFromInt(5)))
	_, err := store.Accounts().GetOrCreate(ctx, 3, model.RoleUser, "VND")
	require.NoError(t, err)

	j := NewReconcileJob(store.Accounts(), ledger, time.Minute, zerolog.Nop())
	j.batchSize = 2
	assert.Equal(t, 1, j.RunOnce(ctx))
}
