package balance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/model"
	"coupleshot-server/modules/common/replicate"
)

type fakeStore struct {
	user       *model.User
	products   []model.UserProduct
	productIdx map[string]*model.UserProduct

	userUpdates    []map[string]interface{}
	productUpdates map[string][]map[string]interface{}
}

func newFakeStore(user *model.User, products []model.UserProduct) *fakeStore {
	f := &fakeStore{
		user:           user,
		products:       products,
		productIdx:     map[string]*model.UserProduct{},
		productUpdates: map[string][]map[string]interface{}{},
	}
	for i := range f.products {
		f.productIdx[f.products[i].ProductID] = &f.products[i]
	}
	return f
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	copied := *f.user
	return &copied, nil
}

func (f *fakeStore) UpdateUser(ctx context.Context, userID string, fields map[string]interface{}) error {
	f.userUpdates = append(f.userUpdates, fields)
	if count, ok := fields["train_count"].(int); ok {
		f.user.TrainCount = count
	}
	return nil
}

func (f *fakeStore) GetProductsByUser(ctx context.Context, userID string) ([]model.UserProduct, error) {
	return f.products, nil
}

func (f *fakeStore) UpdateProduct(ctx context.Context, productID string, fields map[string]interface{}) error {
	f.productUpdates[productID] = append(f.productUpdates[productID], fields)
	if product, ok := f.productIdx[productID]; ok {
		if status, ok := fields["status"].(string); ok {
			product.Status = status
		}
	}
	return nil
}

type fakeLedger struct {
	refunded []int
	err      error
}

func (f *fakeLedger) Refund(ctx context.Context, userID string, amount int) error {
	if f.err != nil {
		return f.err
	}
	f.refunded = append(f.refunded, amount)
	return nil
}

type fakeJobs struct {
	jobs map[string]*replicate.Job
	err  error
}

func (f *fakeJobs) Get(ctx context.Context, kind, id string) (*replicate.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	job, ok := f.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

func testConfig() *config.Config {
	return &config.Config{ReconcileRefund: 300}
}

func TestGetBalanceSettlesSucceededTraining(t *testing.T) {
	store := newFakeStore(
		&model.User{ID: "u1", CreditBalance: 400, TrainCount: 2},
		[]model.UserProduct{{ProductID: "train-1", UserID: "u1", Status: model.StatusPending}},
	)
	jobs := &fakeJobs{jobs: map[string]*replicate.Job{
		"train-1": {
			ID:     "train-1",
			Status: "succeeded",
			Output: json.RawMessage(`{"weights":"https://example.com/w.safetensors"}`),
		},
	}}
	ledger := &fakeLedger{}

	service := NewService(store, ledger, jobs, testConfig())
	balance, products, err := service.GetBalance(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, 400, balance)
	require.Len(t, products, 1)
	assert.Equal(t, model.StatusSucceeded, products[0].Status)
	assert.Empty(t, ledger.refunded)

	updates := store.productUpdates["train-1"]
	require.Len(t, updates, 1)
	assert.Equal(t, model.StatusSucceeded, updates[0]["status"])
	assert.Equal(t, "https://example.com/w.safetensors", updates[0]["weights"])
	assert.Equal(t, true, updates[0]["isPaid"])
	assert.Equal(t, 3, store.user.TrainCount)
}

func TestGetBalanceRefundsFailedTraining(t *testing.T) {
	store := newFakeStore(
		&model.User{ID: "u1", CreditBalance: 100},
		[]model.UserProduct{{ProductID: "train-1", UserID: "u1", Status: model.StatusPending}},
	)
	jobs := &fakeJobs{jobs: map[string]*replicate.Job{
		"train-1": {ID: "train-1", Status: "failed"},
	}}
	ledger := &fakeLedger{}

	service := NewService(store, ledger, jobs, testConfig())
	_, _, err := service.GetBalance(context.Background(), "u1")

	require.NoError(t, err)
	assert.Equal(t, []int{300}, ledger.refunded)
	assert.Equal(t, model.StatusFailed, store.productIdx["train-1"].Status)
}

func TestGetBalanceIsIdempotent(t *testing.T) {
	store := newFakeStore(
		&model.User{ID: "u1", CreditBalance: 100},
		[]model.UserProduct{{ProductID: "train-1", UserID: "u1", Status: model.StatusPending}},
	)
	jobs := &fakeJobs{jobs: map[string]*replicate.Job{
		"train-1": {ID: "train-1", Status: "failed"},
	}}
	ledger := &fakeLedger{}
	service := NewService(store, ledger, jobs, testConfig())

	_, _, err := service.GetBalance(context.Background(), "u1")
	require.NoError(t, err)
	_, _, err = service.GetBalance(context.Background(), "u1")
	require.NoError(t, err)

	// 두 번째 조회에서는 이미 터미널이라 환불이 반복되지 않는다
	assert.Equal(t, []int{300}, ledger.refunded)
	assert.Len(t, store.productUpdates["train-1"], 1)
}

func TestGetBalanceSkipsSucceededWithoutWeights(t *testing.T) {
	store := newFakeStore(
		&model.User{ID: "u1", CreditBalance: 100},
		[]model.UserProduct{{ProductID: "train-1", UserID: "u1", Status: model.StatusPending}},
	)
	jobs := &fakeJobs{jobs: map[string]*replicate.Job{
		"train-1": {ID: "train-1", Status: "succeeded", Output: json.RawMessage(`{}`)},
	}}
	service := NewService(store, &fakeLedger{}, jobs, testConfig())

	_, _, err := service.GetBalance(context.Background(), "u1")
	require.NoError(t, err)

	// 가중치가 준비될 때까지 pending 유지
	assert.Empty(t, store.productUpdates["train-1"])
	assert.Equal(t, model.StatusPending, store.productIdx["train-1"].Status)
}

func TestSettleIgnoresNonPendingProduct(t *testing.T) {
	store := newFakeStore(
		&model.User{ID: "u1", CreditBalance: 100},
		[]model.UserProduct{{ProductID: "train-1", UserID: "u1", Status: model.StatusSucceeded}},
	)
	ledger := &fakeLedger{}
	service := NewService(store, ledger, &fakeJobs{}, testConfig())

	service.Settle(context.Background(), "u1", store.products[0], &replicate.Job{
		ID:     "train-1",
		Status: "failed",
	})

	// 이미 정산된 제품은 다시 건드리지 않는다
	assert.Empty(t, ledger.refunded)
	assert.Empty(t, store.productUpdates["train-1"])
}

func TestGetBalanceSurvivesProviderErrors(t *testing.T) {
	store := newFakeStore(
		&model.User{ID: "u1", CreditBalance: 250},
		[]model.UserProduct{{ProductID: "train-1", UserID: "u1", Status: model.StatusPending}},
	)
	jobs := &fakeJobs{err: errors.New("provider down")}

	service := NewService(store, &fakeLedger{}, jobs, testConfig())
	balance, products, err := service.GetBalance(context.Background(), "u1")

	// 정산 실패는 잔액 조회를 막지 않는다
	require.NoError(t, err)
	assert.Equal(t, 250, balance)
	assert.Len(t, products, 1)
	assert.Equal(t, model.StatusPending, store.productIdx["train-1"].Status)
}
