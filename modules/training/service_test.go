package training

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"coupleshot-server/modules/common/model"
	"coupleshot-server/modules/common/replicate"
)

type fakeStore struct {
	product *model.UserProduct
	err     error
}

func (f *fakeStore) GetProductByID(ctx context.Context, productID, userID string) (*model.UserProduct, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.product, nil
}

type fakeJobs struct {
	job *replicate.Job
	err error
}

func (f *fakeJobs) Get(ctx context.Context, kind, id string) (*replicate.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

type fakeStorage struct {
	removed []string
	err     error
}

func (f *fakeStorage) Remove(ctx context.Context, bucket, path string) error {
	if f.err != nil {
		return f.err
	}
	f.removed = append(f.removed, bucket+"/"+path)
	return nil
}

type fakeSettler struct {
	settled []string // "<user>/<product>/<status>"
}

func (f *fakeSettler) Settle(ctx context.Context, userID string, product model.UserProduct, training *replicate.Job) {
	f.settled = append(f.settled, userID+"/"+product.ProductID+"/"+training.Status)
}

func ownedProduct() *model.UserProduct {
	return &model.UserProduct{ProductID: "train-1", UserID: "u1", Status: model.StatusPending}
}

func TestGetStatusReturnsProgress(t *testing.T) {
	jobs := &fakeJobs{job: &replicate.Job{
		ID:     "train-1",
		Status: "processing",
		Logs:   "flux_train_replicate: 37%",
	}}

	service := NewService(&fakeStore{product: ownedProduct()}, jobs, &fakeStorage{}, nil, nil)
	status := service.GetStatus(context.Background(), "train-1", "u1")

	assert.Equal(t, "processing", status.Status)
	assert.Equal(t, 37, status.Progress)
}

func TestGetStatusDegradesOnProviderError(t *testing.T) {
	jobs := &fakeJobs{err: errors.New("provider down")}

	service := NewService(&fakeStore{product: ownedProduct()}, jobs, &fakeStorage{}, nil, nil)
	status := service.GetStatus(context.Background(), "train-1", "u1")

	assert.Equal(t, model.StatusFailed, status.Status)
	assert.Equal(t, 0, status.Progress)
}

func TestGetStatusRejectsUnownedTraining(t *testing.T) {
	store := &fakeStore{err: errors.New("not found")}
	jobs := &fakeJobs{job: &replicate.Job{ID: "train-1", Status: "processing"}}

	service := NewService(store, jobs, &fakeStorage{}, nil, nil)
	status := service.GetStatus(context.Background(), "train-1", "intruder")

	assert.Equal(t, model.StatusFailed, status.Status)
}

func TestGetStatusDeletesInputZipOnSuccess(t *testing.T) {
	jobs := &fakeJobs{job: &replicate.Job{
		ID:     "train-1",
		Status: "succeeded",
		Input: map[string]interface{}{
			"input_images": "https://proj.supabase.co/storage/v1/object/public/zips/images_1_abc.zip",
		},
		Output: json.RawMessage(`{"weights":"https://example.com/w.safetensors"}`),
	}}
	storage := &fakeStorage{}

	service := NewService(&fakeStore{product: ownedProduct()}, jobs, storage, nil, nil)
	status := service.GetStatus(context.Background(), "train-1", "u1")

	assert.Equal(t, "succeeded", status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, []string{"zips/images_1_abc.zip"}, storage.removed)
}

func TestGetStatusSettlesTerminalTraining(t *testing.T) {
	jobs := &fakeJobs{job: &replicate.Job{
		ID:     "train-1",
		Status: "succeeded",
		Output: json.RawMessage(`{"weights":"https://example.com/w.safetensors"}`),
	}}
	settler := &fakeSettler{}

	service := NewService(&fakeStore{product: ownedProduct()}, jobs, &fakeStorage{}, settler, nil)
	service.GetStatus(context.Background(), "train-1", "u1")

	// 잔액 조회를 기다리지 않고 상태 조회 시점에 제품이 정산된다
	assert.Equal(t, []string{"u1/train-1/succeeded"}, settler.settled)
}

func TestGetStatusSettlesFailedTraining(t *testing.T) {
	jobs := &fakeJobs{job: &replicate.Job{ID: "train-1", Status: "failed"}}
	settler := &fakeSettler{}

	service := NewService(&fakeStore{product: ownedProduct()}, jobs, &fakeStorage{}, settler, nil)
	service.GetStatus(context.Background(), "train-1", "u1")

	assert.Equal(t, []string{"u1/train-1/failed"}, settler.settled)
}

func TestGetStatusDoesNotSettleWhileRunning(t *testing.T) {
	jobs := &fakeJobs{job: &replicate.Job{ID: "train-1", Status: "processing"}}
	settler := &fakeSettler{}

	service := NewService(&fakeStore{product: ownedProduct()}, jobs, &fakeStorage{}, settler, nil)
	service.GetStatus(context.Background(), "train-1", "u1")

	assert.Empty(t, settler.settled)
}

func TestGetStatusSkipsZipCleanupWhileRunning(t *testing.T) {
	jobs := &fakeJobs{job: &replicate.Job{
		ID:     "train-1",
		Status: "processing",
		Input: map[string]interface{}{
			"input_images": "https://proj.supabase.co/storage/v1/object/public/zips/images_1_abc.zip",
		},
	}}
	storage := &fakeStorage{}

	service := NewService(&fakeStore{product: ownedProduct()}, jobs, storage, nil, nil)
	service.GetStatus(context.Background(), "train-1", "u1")

	assert.Empty(t, storage.removed)
}
