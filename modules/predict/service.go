package predict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/model"
	"coupleshot-server/modules/common/replicate"
)

const (
	staleAfter   = 2 * time.Hour
	maxListLimit = 100

	// 기본으로 항상 섞어 쓰는 리얼리즘 LoRA
	baseLora = "VideoAditor/Flux-Lora-Realism"
)

// ErrNoWeights - 학습이 끝나지 않아 가중치가 없는 제품
var ErrNoWeights = errors.New("product has no trained weights yet")

// Store - 예측 모듈이 필요로 하는 저장소 연산
type Store interface {
	GetProductByID(ctx context.Context, productID, userID string) (*model.UserProduct, error)
	UpdateProduct(ctx context.Context, productID string, fields map[string]interface{}) error
	InsertPrediction(ctx context.Context, fields map[string]interface{}) error
	ListPredictionsByUser(ctx context.Context, userID string) ([]model.Prediction, error)
	DeleteStalePredictions(ctx context.Context, cutoff time.Time) error
}

// Ledger - 크레딧 정산
type Ledger interface {
	QuotePredictions(currentCount, imageCount int) int
	Deduct(ctx context.Context, userID string, amount int) error
	Refund(ctx context.Context, userID string, amount int) error
}

// JobClient - 예측 Job 생성/조회
type JobClient interface {
	CreatePrediction(ctx context.Context, version string, input map[string]interface{}) (*replicate.Job, error)
	Get(ctx context.Context, kind, id string) (*replicate.Job, error)
}

// Service - 베이비 이미지 예측 생성/조회
type Service struct {
	store   Store
	ledger  Ledger
	jobs    JobClient
	prompts PromptGenerator
	cfg     *config.Config
}

// NewService - Service 생성
func NewService(store Store, ledger Ledger, jobs JobClient, prompts PromptGenerator, cfg *config.Config) *Service {
	return &Service{
		store:   store,
		ledger:  ledger,
		jobs:    jobs,
		prompts: prompts,
		cfg:     cfg,
	}
}

// GenerateRequest - 예측 생성 요청
type GenerateRequest struct {
	UserID       string `json:"user_id"`
	ProductID    string `json:"product_id"`
	Theme        string `json:"theme"`
	ImageCount   int    `json:"image_count"`
	AspectRatio  string `json:"aspect_ratio"`
	OutputFormat string `json:"output_format"`
}

// GenerateResult - 예측 생성 결과 (제출만 확인, 완료는 조회로 추적)
type GenerateResult struct {
	PredictionIDs []string `json:"prediction_ids"`
	Charged       int      `json:"charged"`
}

// Generate - 학습된 모델로 베이비 이미지 예측을 제출
// 제품에 누적된 생성 수가 무료 한도 안이면 무과금, 넘으면 장당 과금한다
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.ImageCount <= 0 {
		req.ImageCount = 1
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "1:1"
	}
	if req.OutputFormat == "" {
		req.OutputFormat = "webp"
	}

	product, err := s.store.GetProductByID(ctx, req.ProductID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product %s: %w", req.ProductID, err)
	}

	if product.Weights == nil || *product.Weights == "" {
		return nil, ErrNoWeights
	}

	// 과금 기준은 제품 로우의 누적 카운터. 예측 레코드는 주기적으로
	// 정리되므로 레코드 수를 세면 무료 한도가 리셋된다.
	fee := s.ledger.QuotePredictions(product.ImageCount, req.ImageCount)
	if fee > 0 {
		if err := s.ledger.Deduct(ctx, req.UserID, fee); err != nil {
			return nil, err
		}
	}

	theme := req.Theme
	if theme == "" {
		theme = "soft studio portrait"
	}

	prompt, err := s.prompts.GeneratePrompt(ctx, theme)
	if err != nil {
		s.refundOnFailure(ctx, req.UserID, fee)
		return nil, fmt.Errorf("prompt generation failed: %w", err)
	}

	log.Printf("📝 [Predict] Prompt ready for user %s (%d chars)", req.UserID, len(prompt))

	input := map[string]interface{}{
		"prompt":                 "A photo of TOK " + prompt,
		"hf_loras":               []string{baseLora, *product.Weights},
		"lora_scales":            []float64{0.9},
		"num_outputs":            1,
		"aspect_ratio":           req.AspectRatio,
		"output_format":          req.OutputFormat,
		"guidance_scale":         5,
		"output_quality":         100,
		"prompt_strength":        1,
		"num_inference_steps":    50,
		"disable_safety_checker": true,
	}

	// 제출 단위로 과금했으므로 일부 실패 시 실패분만 환불
	submitted := []string{}
	failedCount := 0

	for i := 0; i < req.ImageCount; i++ {
		prediction, err := s.jobs.CreatePrediction(ctx, s.cfg.PredictionVersion, input)
		if err != nil {
			log.Printf("⚠️ [Predict] Submission %d/%d failed: %v", i+1, req.ImageCount, err)
			failedCount++
			continue
		}

		if err := s.store.InsertPrediction(ctx, map[string]interface{}{
			"user_id":       req.UserID,
			"product_id":    req.ProductID,
			"prediction_id": prediction.ID,
			"categories":    theme,
		}); err != nil {
			log.Printf("⚠️ [Predict] Failed to record prediction %s: %v", prediction.ID, err)
		}

		submitted = append(submitted, prediction.ID)
	}

	if len(submitted) == 0 {
		s.refundOnFailure(ctx, req.UserID, fee)
		return nil, errors.New("all prediction submissions failed")
	}

	if failedCount > 0 && fee > 0 {
		perImage := s.cfg.PredictionImagePrice
		if err := s.ledger.Refund(ctx, req.UserID, failedCount*perImage); err != nil {
			log.Printf("❌ [Predict] Partial refund failed for user %s: %v", req.UserID, err)
		}
		fee -= failedCount * perImage
	}

	// 누적 카운터는 실제 제출된 수만큼만 올린다
	newImageCount := product.ImageCount + len(submitted)
	if err := s.store.UpdateProduct(ctx, req.ProductID, map[string]interface{}{
		"imageCount": newImageCount,
	}); err != nil {
		log.Printf("⚠️ [Predict] Failed to update image count for product %s: %v", req.ProductID, err)
	}

	log.Printf("✅ [Predict] Submitted %d prediction(s) for user %s (lifetime %d)",
		len(submitted), req.UserID, newImageCount)

	return &GenerateResult{
		PredictionIDs: submitted,
		Charged:       fee,
	}, nil
}

func (s *Service) refundOnFailure(ctx context.Context, userID string, fee int) {
	if fee <= 0 {
		return
	}
	if err := s.ledger.Refund(ctx, userID, fee); err != nil {
		log.Printf("❌ [Predict] Refund failed for user %s: %v", userID, err)
		return
	}
	log.Printf("💰 [Predict] Refunded %d credits to user %s", fee, userID)
}

// PredictionView - 조회 응답 항목
type PredictionView struct {
	PredictionID string `json:"prediction_id"`
	ProductID    string `json:"product_id"`
	Categories   string `json:"categories"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	OutputURL    string `json:"output_url,omitempty"`
}

// List - 유저의 예측 목록을 제공자 상태로 보강해 반환
// 2시간 넘은 레코드는 조회 시점에 정리한다
func (s *Service) List(ctx context.Context, userID string, limit int) ([]PredictionView, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}

	if err := s.store.DeleteStalePredictions(ctx, time.Now().Add(-staleAfter)); err != nil {
		log.Printf("⚠️ [Predict] Stale cleanup failed: %v", err)
	}

	records, err := s.store.ListPredictionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(records) > limit {
		records = records[:limit]
	}

	views := make([]PredictionView, 0, len(records))
	for _, record := range records {
		view := PredictionView{
			PredictionID: record.PredictionID,
			ProductID:    record.ProductID,
			Categories:   record.Categories,
			Status:       model.StatusPending,
		}

		job, err := s.jobs.Get(ctx, replicate.KindPrediction, record.PredictionID)
		if err != nil {
			log.Printf("⚠️ [Predict] Status query failed for %s: %v", record.PredictionID, err)
			views = append(views, view)
			continue
		}

		view.Status = job.Status
		view.Progress = replicate.ExtractProgress(job.Logs, job.Status)
		view.OutputURL = job.OutputURL()
		views = append(views, view)
	}

	return views, nil
}
