package credit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/database"
	"coupleshot-server/modules/common/model"
)

type fakeUserStore struct {
	users      map[string]*model.User
	updateErr  error
	getMissing bool
}

func (f *fakeUserStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	if f.getMissing {
		return nil, database.ErrNotFound
	}
	user, ok := f.users[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (f *fakeUserStore) UpdateUser(ctx context.Context, userID string, fields map[string]interface{}) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if balance, ok := fields["credit_balance"].(int); ok {
		f.users[userID].CreditBalance = balance
	}
	return nil
}

func testPolicy() *config.Config {
	return &config.Config{
		TrainFee:             100,
		RecoveryRefund:       100,
		ReconcileRefund:      300,
		PredictionImagePrice: 5,
		FreePredictionLimit:  30,
	}
}

func TestQuoteTrain(t *testing.T) {
	ledger := NewLedger(&fakeUserStore{}, testPolicy())

	assert.Equal(t, 0, ledger.QuoteTrain(false), "first training should be free")
	assert.Equal(t, 100, ledger.QuoteTrain(true))
}

func TestQuotePredictions(t *testing.T) {
	ledger := NewLedger(&fakeUserStore{}, testPolicy())

	tests := []struct {
		name         string
		currentCount int
		imageCount   int
		want         int
	}{
		{"well under free limit", 0, 4, 0},
		{"just under free limit", 25, 4, 0},
		{"reaches free limit", 26, 4, 20},
		{"over free limit", 30, 4, 20},
		{"single image over limit", 50, 1, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ledger.QuotePredictions(tt.currentCount, tt.imageCount))
		})
	}
}

func TestDeduct(t *testing.T) {
	t.Run("deducts from balance", func(t *testing.T) {
		store := &fakeUserStore{users: map[string]*model.User{
			"u1": {ID: "u1", CreditBalance: 200},
		}}
		ledger := NewLedger(store, testPolicy())

		err := ledger.Deduct(context.Background(), "u1", 100)
		require.NoError(t, err)
		assert.Equal(t, 100, store.users["u1"].CreditBalance)
	})

	t.Run("rejects insufficient balance without partial deduction", func(t *testing.T) {
		store := &fakeUserStore{users: map[string]*model.User{
			"u1": {ID: "u1", CreditBalance: 50},
		}}
		ledger := NewLedger(store, testPolicy())

		err := ledger.Deduct(context.Background(), "u1", 100)
		assert.ErrorIs(t, err, ErrInsufficientCredit)
		assert.Equal(t, 50, store.users["u1"].CreditBalance)
	})

	t.Run("zero amount is a no-op", func(t *testing.T) {
		store := &fakeUserStore{users: map[string]*model.User{
			"u1": {ID: "u1", CreditBalance: 50},
		}}
		ledger := NewLedger(store, testPolicy())

		require.NoError(t, ledger.Deduct(context.Background(), "u1", 0))
		assert.Equal(t, 50, store.users["u1"].CreditBalance)
	})

	t.Run("missing user", func(t *testing.T) {
		store := &fakeUserStore{getMissing: true}
		ledger := NewLedger(store, testPolicy())

		err := ledger.Deduct(context.Background(), "ghost", 100)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestRefundAddsExactAmount(t *testing.T) {
	store := &fakeUserStore{users: map[string]*model.User{
		"u1": {ID: "u1", CreditBalance: 100},
	}}
	ledger := NewLedger(store, testPolicy())
	ctx := context.Background()

	// 차감 후 다른 지급이 끼어들어도 환불은 차감액만큼만 더한다
	require.NoError(t, ledger.Deduct(ctx, "u1", 100))
	_, err := ledger.AddCoins(ctx, "u1", 500)
	require.NoError(t, err)

	require.NoError(t, ledger.Refund(ctx, "u1", 100))
	assert.Equal(t, 600, store.users["u1"].CreditBalance)
}

func TestRefundPropagatesStoreError(t *testing.T) {
	store := &fakeUserStore{
		users:     map[string]*model.User{"u1": {ID: "u1", CreditBalance: 0}},
		updateErr: errors.New("write failed"),
	}
	ledger := NewLedger(store, testPolicy())

	err := ledger.Refund(context.Background(), "u1", 100)
	assert.Error(t, err)
}

func TestAddCoins(t *testing.T) {
	store := &fakeUserStore{users: map[string]*model.User{
		"u1": {ID: "u1", CreditBalance: 20},
	}}
	ledger := NewLedger(store, testPolicy())

	balance, err := ledger.AddCoins(context.Background(), "u1", 500)
	require.NoError(t, err)
	assert.Equal(t, 520, balance)
	assert.Equal(t, 520, store.users["u1"].CreditBalance)
}
