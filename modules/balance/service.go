package balance

import (
	"context"
	"log"
	"time"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/model"
	"coupleshot-server/modules/common/replicate"
)

// Store - 잔액 조회가 필요로 하는 저장소 연산
type Store interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpdateUser(ctx context.Context, userID string, fields map[string]interface{}) error
	GetProductsByUser(ctx context.Context, userID string) ([]model.UserProduct, error)
	UpdateProduct(ctx context.Context, productID string, fields map[string]interface{}) error
}

// Ledger - 환불 연산
type Ledger interface {
	Refund(ctx context.Context, userID string, amount int) error
}

// JobClient - 학습 Job 상태 조회
type JobClient interface {
	Get(ctx context.Context, kind, id string) (*replicate.Job, error)
}

// Service - 잔액 조회 시점에 학습 결과를 정산하는 reconciler
// pending 제품만 건드리므로 반복 호출해도 정산은 1회만 일어난다
type Service struct {
	store  Store
	ledger Ledger
	jobs   JobClient
	cfg    *config.Config
}

// NewService - Service 생성
func NewService(store Store, ledger Ledger, jobs JobClient, cfg *config.Config) *Service {
	return &Service{
		store:  store,
		ledger: ledger,
		jobs:   jobs,
		cfg:    cfg,
	}
}

// GetBalance - 유저의 pending 학습을 정산한 뒤 최신 잔액과 제품 목록을 반환
func (s *Service) GetBalance(ctx context.Context, userID string) (int, []model.UserProduct, error) {
	products, err := s.store.GetProductsByUser(ctx, userID)
	if err != nil {
		log.Printf("⚠️ [Balance] Failed to list products for user %s: %v", userID, err)
	} else {
		s.reconcile(ctx, userID, products)
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, nil, err
	}

	// 정산 결과가 반영된 목록을 다시 읽는다
	refreshed, err := s.store.GetProductsByUser(ctx, userID)
	if err != nil {
		log.Printf("⚠️ [Balance] Failed to reload products for user %s: %v", userID, err)
		refreshed = products
	}

	return user.CreditBalance, refreshed, nil
}

// reconcile - pending 제품마다 학습 상태를 확인해 터미널이면 정산
// 한 건의 실패가 나머지 정산을 막지 않는다
func (s *Service) reconcile(ctx context.Context, userID string, products []model.UserProduct) {
	for _, product := range products {
		if product.Status != model.StatusPending {
			continue
		}

		training, err := s.jobs.Get(ctx, replicate.KindTraining, product.ProductID)
		if err != nil {
			log.Printf("⚠️ [Balance] Failed to query training %s: %v", product.ProductID, err)
			continue
		}

		s.Settle(ctx, userID, product, training)
	}
}

// Settle - pending 제품 하나를 학습 Job 상태에 따라 정산
// 잔액 조회와 학습 상태 조회 양쪽에서 쓰인다
func (s *Service) Settle(ctx context.Context, userID string, product model.UserProduct, training *replicate.Job) {
	if product.Status != model.StatusPending || training == nil {
		return
	}

	switch training.Status {
	case "succeeded":
		weights := training.WeightsURL()
		if weights == "" {
			// 완료로 보고됐지만 가중치가 아직 없으면 다음 조회에서 재확인
			log.Printf("⏳ [Balance] Training %s succeeded but weights not ready", product.ProductID)
			return
		}
		s.settleSuccess(ctx, userID, product, weights)

	case "failed", "canceled":
		s.settleFailure(ctx, userID, product, training.Status)
	}
}

// settleSuccess - 학습 성공 정산: 가중치 기록 후 train_count 증가
func (s *Service) settleSuccess(ctx context.Context, userID string, product model.UserProduct, weights string) {
	if err := s.store.UpdateProduct(ctx, product.ProductID, map[string]interface{}{
		"status":  model.StatusSucceeded,
		"weights": weights,
		"isPaid":  true,
	}); err != nil {
		log.Printf("❌ [Balance] Failed to settle product %s: %v", product.ProductID, err)
		return
	}

	s.bumpTrainCount(ctx, userID)
	log.Printf("✅ [Balance] Training %s settled as succeeded", product.ProductID)
}

// settleFailure - 학습 실패/취소 정산: 실패 기록 후 환불
func (s *Service) settleFailure(ctx context.Context, userID string, product model.UserProduct, status string) {
	if err := s.store.UpdateProduct(ctx, product.ProductID, map[string]interface{}{
		"status": status,
	}); err != nil {
		log.Printf("❌ [Balance] Failed to mark product %s %s: %v", product.ProductID, status, err)
		return
	}

	if err := s.ledger.Refund(ctx, userID, s.cfg.ReconcileRefund); err != nil {
		log.Printf("❌ [Balance] Refund failed for product %s: %v", product.ProductID, err)
	} else {
		log.Printf("💰 [Balance] Refunded %d credits for %s training %s",
			s.cfg.ReconcileRefund, status, product.ProductID)
	}

	s.bumpTrainCount(ctx, userID)
}

func (s *Service) bumpTrainCount(ctx context.Context, userID string) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		log.Printf("⚠️ [Balance] Failed to load user %s for train_count: %v", userID, err)
		return
	}

	if err := s.store.UpdateUser(ctx, userID, map[string]interface{}{
		"train_count": user.TrainCount + 1,
	}); err != nil {
		log.Printf("⚠️ [Balance] Failed to bump train_count for user %s: %v", userID, err)
	}
}

// 상태 조회 타임아웃 (정산은 잔액 응답을 오래 붙잡지 않는다)
const reconcileTimeout = 30 * time.Second

// GetBalanceWithTimeout - 핸들러용 타임아웃 래퍼
func (s *Service) GetBalanceWithTimeout(parent context.Context, userID string) (int, []model.UserProduct, error) {
	ctx, cancel := context.WithTimeout(parent, reconcileTimeout)
	defer cancel()
	return s.GetBalance(ctx, userID)
}
