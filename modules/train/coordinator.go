package train

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/credit"
	"coupleshot-server/modules/common/model"
	"coupleshot-server/modules/common/replicate"
	"coupleshot-server/modules/common/utils"
)

const (
	imagesBucket = "images"
	zipsBucket   = "zips"

	removeBgTimeout  = 120 * time.Second
	removeBgInterval = 3 * time.Second

	maxProductImageURLs = 3
)

// Store - Coordinator가 필요로 하는 저장소 연산
type Store interface {
	UpsertRequest(ctx context.Context, uuid string, fields map[string]interface{}) error
	UpdateRequest(ctx context.Context, uuid string, fields map[string]interface{}) error
	ListRequestsByStatus(ctx context.Context, status string) ([]model.GenerateRequest, error)
	InsertProduct(ctx context.Context, fields map[string]interface{}) error
	CountProductsByUser(ctx context.Context, userID string) (int, error)
}

// Ledger - 크레딧 차감/환불 연산
type Ledger interface {
	QuoteTrain(hasProducts bool) int
	Deduct(ctx context.Context, userID string, amount int) error
	Refund(ctx context.Context, userID string, amount int) error
}

// JobClient - 외부 비동기 컴퓨트 제공자
type JobClient interface {
	CreateModel(ctx context.Context, owner, name, hardware string) error
	CreateTraining(ctx context.Context, trainerOwner, trainerModel, trainerVersion, destination string, input map[string]interface{}) (*replicate.Job, error)
	CreatePrediction(ctx context.Context, version string, input map[string]interface{}) (*replicate.Job, error)
	AwaitCompletion(ctx context.Context, kind, id string, timeout, interval time.Duration) (*replicate.Job, error)
}

// ObjectStorage - 파일 업로드/다운로드
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error
	PublicURL(bucket, path string) string
	Download(ctx context.Context, url string) ([]byte, error)
}

// Coordinator - 학습 요청 상태 머신 드라이버
// pending → succeeded/failed 단방향 전이, 차감 이후 모든 실패 경로에서 1회 환불
type Coordinator struct {
	store   Store
	ledger  Ledger
	jobs    JobClient
	storage ObjectStorage
	cfg     *config.Config

	// 이미지 연산은 테스트에서 교체 가능하도록 함수 필드로 주입
	normalize func([]byte) ([]byte, error)
	combine   func(left, right []byte) ([]byte, error)
	toWebP    func([]byte, float32) ([]byte, error)
}

// NewCoordinator - Coordinator 생성
func NewCoordinator(store Store, ledger Ledger, jobs JobClient, objStorage ObjectStorage, cfg *config.Config) *Coordinator {
	return &Coordinator{
		store:     store,
		ledger:    ledger,
		jobs:      jobs,
		storage:   objStorage,
		cfg:       cfg,
		normalize: utils.NormalizeUpload,
		combine:   utils.CombineSideBySide,
		toWebP:    utils.ConvertToWebP,
	}
}

// Run - 요청 하나를 터미널 상태까지 구동
// HTTP 응답과 분리되어 실행되므로 에러는 저장된 상태와 로그로만 드러난다
func (c *Coordinator) Run(ctx context.Context, job Job) {
	log.Printf("🚀 [Train] Processing request: %s (user: %s)", job.RequestID, job.UserID)

	if job.RequestID == "" {
		log.Println("❌ [Train] Missing request_id, aborting")
		return
	}

	// 파일이 없으면 차감 없이 즉시 failed
	if len(job.Files) == 0 {
		log.Printf("❌ [Train] No files for request %s", job.RequestID)
		c.markFailed(ctx, job.RequestID)
		return
	}

	// 기존 제품 보유 여부로 요금 결정 (첫 학습 무료)
	productCount, err := c.store.CountProductsByUser(ctx, job.UserID)
	if err != nil {
		log.Printf("❌ [Train] Failed to count products for user %s: %v", job.UserID, err)
		c.markFailed(ctx, job.RequestID)
		return
	}
	fee := c.ledger.QuoteTrain(productCount > 0)

	// pending 업서트 (uuid가 멱등 키)
	if err := c.store.UpsertRequest(ctx, job.RequestID, map[string]interface{}{
		"user_id":   job.UserID,
		"status":    model.StatusPending,
		"image_url": job.ImageURL,
	}); err != nil {
		log.Printf("❌ [Train] Failed to upsert request %s: %v", job.RequestID, err)
		return
	}

	// 잔액 확인 → 차감 (유일한 커밋 지점, 이후 모든 실패는 환불 동반)
	deducted := false
	if fee > 0 {
		if err := c.ledger.Deduct(ctx, job.UserID, fee); err != nil {
			if errors.Is(err, credit.ErrInsufficientCredit) {
				log.Printf("❌ [Train] Insufficient credits for request %s", job.RequestID)
			} else {
				log.Printf("❌ [Train] Deduction failed for request %s: %v", job.RequestID, err)
			}
			c.markFailed(ctx, job.RequestID)
			return
		}

		if err := c.store.UpdateRequest(ctx, job.RequestID, map[string]interface{}{
			"credits_deducted": true,
		}); err != nil {
			// 플래그 기록 실패 상태로 진행하면 복구 스윕이 환불을 놓친다 — 즉시 환불하고 중단
			log.Printf("❌ [Train] Failed to record credits_deducted for %s: %v", job.RequestID, err)
			if refundErr := c.ledger.Refund(ctx, job.UserID, fee); refundErr != nil {
				log.Printf("❌ [Train] Refund after flag failure also failed: %v", refundErr)
			}
			c.markFailed(ctx, job.RequestID)
			return
		}
		deducted = true
	}

	// 이 지점부터의 실패는 전부 failWithRefund를 거친다
	combined, err := c.uploadAndCombine(ctx, job)
	if err != nil || len(combined) == 0 {
		log.Printf("❌ [Train] Combine phase failed for %s: %v", job.RequestID, err)
		c.failWithRefund(ctx, job, deducted, fee)
		return
	}

	processed := c.removeBackgrounds(ctx, combined)
	if len(processed) == 0 {
		log.Printf("❌ [Train] No background-removal results for %s", job.RequestID)
		c.failWithRefund(ctx, job, deducted, fee)
		return
	}

	zipURL, processedURLs, err := c.packageResults(ctx, processed)
	if err != nil {
		log.Printf("❌ [Train] Packaging failed for %s: %v", job.RequestID, err)
		c.failWithRefund(ctx, job, deducted, fee)
		return
	}

	training, err := c.submitTraining(ctx, zipURL)
	if err != nil {
		log.Printf("❌ [Train] Training submission failed for %s: %v", job.RequestID, err)
		c.failWithRefund(ctx, job, deducted, fee)
		return
	}

	// 제출 직후 terminal failure가 보고된 경우도 실패로 처리
	if training.Status == "failed" || training.Status == "canceled" {
		log.Printf("❌ [Train] Training %s reported %s at submission", training.ID, training.Status)
		c.failWithRefund(ctx, job, deducted, fee)
		return
	}

	if err := c.insertProduct(ctx, job, training.ID, combined, processedURLs); err != nil {
		log.Printf("⚠️ [Train] userproduct insert failed for %s: %v", job.RequestID, err)
	}

	if err := c.store.UpdateRequest(ctx, job.RequestID, map[string]interface{}{
		"status": model.StatusSucceeded,
	}); err != nil {
		log.Printf("❌ [Train] Failed to mark request %s succeeded: %v", job.RequestID, err)
		return
	}

	log.Printf("✅ [Train] Request %s succeeded (training: %s)", job.RequestID, training.ID)
}

// uploadAndCombine - 원본 정규화/업로드 후 커플 사진 병합
func (c *Coordinator) uploadAndCombine(ctx context.Context, job Job) ([]combinedImage, error) {
	type uploaded struct {
		OriginalName string
		Data         []byte
	}

	uploads := make([]uploaded, 0, len(job.Files))

	for _, file := range job.Files {
		normalized, err := c.normalize(file.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize %s: %w", file.OriginalName, err)
		}

		// 원본 보관은 WebP로 (용량 절감)
		webpData, err := c.toWebP(normalized, 90.0)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s to WebP: %w", file.OriginalName, err)
		}

		uniqueName := fmt.Sprintf("%d_%s_%s.webp", time.Now().UnixMilli(), uuid.NewString(), file.OriginalName)
		if err := c.storage.Upload(ctx, imagesBucket, uniqueName, webpData, "image/webp"); err != nil {
			return nil, fmt.Errorf("failed to upload %s: %w", file.OriginalName, err)
		}

		uploads = append(uploads, uploaded{
			OriginalName: file.OriginalName,
			Data:         normalized,
		})
	}

	log.Printf("📦 [Train] Uploaded %d source files", len(uploads))

	combined := []combinedImage{}

	appendCombined := func(index string, left, right []byte) error {
		combinedData, err := c.combine(left, right)
		if err != nil {
			return err
		}

		fileName := fmt.Sprintf("combined_%s_%s.png", index, uuid.NewString())
		if err := c.storage.Upload(ctx, imagesBucket, fileName, combinedData, "image/png"); err != nil {
			return err
		}

		combined = append(combined, combinedImage{
			Index:    index,
			URL:      c.storage.PublicURL(imagesBucket, fileName),
			FileName: fileName,
			Data:     combinedData,
		})
		return nil
	}

	// 정확히 2장이면 이름과 무관하게 병합
	if len(uploads) == 2 {
		if err := appendCombined("1", uploads[0].Data, uploads[1].Data); err != nil {
			log.Printf("⚠️ [Train] Combine failed for pair: %v", err)
		}
		return combined, nil
	}

	// man_X / woman_X 파일명 매칭
	for _, item := range uploads {
		lower := strings.ToLower(item.OriginalName)
		if !strings.HasPrefix(lower, "man_") {
			continue
		}

		suffix := strings.TrimPrefix(lower, "man_")
		index := strings.SplitN(suffix, ".", 2)[0]

		var partner *uploaded
		for i := range uploads {
			if strings.HasPrefix(strings.ToLower(uploads[i].OriginalName), "woman_"+index+".") {
				partner = &uploads[i]
				break
			}
		}

		if partner == nil {
			log.Printf("⚠️ [Train] woman_%s not found, skipping combine", index)
			continue
		}

		if err := appendCombined(index, item.Data, partner.Data); err != nil {
			log.Printf("⚠️ [Train] Combine failed for pair %s: %v", index, err)
		}
	}

	return combined, nil
}

// removeBackgrounds - 병합 이미지마다 배경 제거 prediction 실행
// 개별 실패는 건너뛰고, 전부 실패하면 호출자가 환불 처리
func (c *Coordinator) removeBackgrounds(ctx context.Context, combined []combinedImage) []processedImage {
	results := []processedImage{}

	for _, item := range combined {
		log.Printf("🎨 [Train] Removing background: %s", item.FileName)

		prediction, err := c.jobs.CreatePrediction(ctx, c.cfg.RemoveBgVersion, map[string]interface{}{
			"image": item.URL,
		})
		if err != nil {
			log.Printf("⚠️ [Train] Prediction create failed for %s: %v", item.FileName, err)
			continue
		}

		completed, err := c.jobs.AwaitCompletion(ctx, replicate.KindPrediction, prediction.ID, removeBgTimeout, removeBgInterval)
		if err != nil {
			log.Printf("⚠️ [Train] Prediction %s did not complete: %v", prediction.ID, err)
			continue
		}

		outputURL := completed.OutputURL()
		if outputURL == "" {
			log.Printf("⚠️ [Train] Prediction %s returned no output", prediction.ID)
			continue
		}

		results = append(results, processedImage{
			Index:     item.Index,
			OutputURL: outputURL,
		})
	}

	return results
}

// packageResults - 처리된 이미지를 zip으로 묶어 업로드
// 학습 입력용 zip URL과 보관용 개별 이미지 URL을 반환
func (c *Coordinator) packageResults(ctx context.Context, processed []processedImage) (string, []string, error) {
	var zipBuffer bytes.Buffer
	zipWriter := zip.NewWriter(&zipBuffer)
	processedURLs := []string{}
	added := 0

	for _, item := range processed {
		imgFileName := fmt.Sprintf("combined_%s_%s.png", item.Index, uuid.NewString())

		data, err := c.storage.Download(ctx, item.OutputURL)
		if err != nil {
			log.Printf("⚠️ [Train] Failed to download processed image %s: %v", item.OutputURL, err)
			continue
		}

		entry, err := zipWriter.Create(imgFileName)
		if err != nil {
			log.Printf("⚠️ [Train] Failed to add %s to zip: %v", imgFileName, err)
			continue
		}
		if _, err := entry.Write(data); err != nil {
			log.Printf("⚠️ [Train] Failed to write %s to zip: %v", imgFileName, err)
			continue
		}
		added++

		// 개별 결과도 보관
		if err := c.storage.Upload(ctx, imagesBucket, imgFileName, data, "image/png"); err != nil {
			log.Printf("⚠️ [Train] Failed to upload processed image %s: %v", imgFileName, err)
			continue
		}
		processedURLs = append(processedURLs, c.storage.PublicURL(imagesBucket, imgFileName))
	}

	if err := zipWriter.Close(); err != nil {
		return "", nil, fmt.Errorf("failed to finalize zip: %w", err)
	}

	if added == 0 {
		return "", nil, errors.New("no processed images could be packaged")
	}

	zipFileName := fmt.Sprintf("images_%d_%s.zip", time.Now().UnixMilli(), uuid.NewString())
	if err := c.storage.Upload(ctx, zipsBucket, zipFileName, zipBuffer.Bytes(), "application/zip"); err != nil {
		return "", nil, fmt.Errorf("failed to upload zip: %w", err)
	}

	log.Printf("📦 [Train] Zip uploaded: %s (%d bytes, %d images)", zipFileName, zipBuffer.Len(), added)
	return c.storage.PublicURL(zipsBucket, zipFileName), processedURLs, nil
}

// submitTraining - private 모델 생성 후 학습 Job 제출
func (c *Coordinator) submitTraining(ctx context.Context, zipURL string) (*replicate.Job, error) {
	repoName := strings.ToLower(uuid.NewString())

	if err := c.jobs.CreateModel(ctx, c.cfg.ReplicateOwner, repoName, c.cfg.TrainerHardware); err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	log.Println("🚀 [Train] Starting model training...")

	training, err := c.jobs.CreateTraining(ctx,
		c.cfg.TrainerOwner, c.cfg.TrainerModel, c.cfg.TrainerVersion,
		fmt.Sprintf("%s/%s", c.cfg.ReplicateOwner, repoName),
		map[string]interface{}{
			"steps":         1000,
			"lora_rank":     20,
			"optimizer":     "adamw8bit",
			"batch_size":    1,
			"resolution":    "512,768,1024",
			"autocaption":   true,
			"input_images":  zipURL,
			"trigger_word":  "TOK",
			"learning_rate": 0.0004,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create training: %w", err)
	}

	return training, nil
}

// insertProduct - userproduct 레코드 생성 (request_id로 요청과 연결)
func (c *Coordinator) insertProduct(ctx context.Context, job Job, trainingID string, combined []combinedImage, processedURLs []string) error {
	if len(processedURLs) > maxProductImageURLs {
		processedURLs = processedURLs[:maxProductImageURLs]
	}

	coverImages := []string{}
	if len(combined) > 0 {
		coverImages = append(coverImages, combined[0].URL)
	} else if job.ImageURL != "" {
		coverImages = append(coverImages, job.ImageURL)
	}

	imageURLsJSON, err := json.Marshal(processedURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal image_urls: %w", err)
	}
	coverImagesJSON, err := json.Marshal(coverImages)
	if err != nil {
		return fmt.Errorf("failed to marshal cover_images: %w", err)
	}

	return c.store.InsertProduct(ctx, map[string]interface{}{
		"user_id":      job.UserID,
		"product_id":   trainingID,
		"request_id":   job.RequestID,
		"status":       model.StatusPending,
		"image_urls":   string(imageURLsJSON),
		"cover_images": string(coverImagesJSON),
		"isPaid":       true,
	})
}

// markFailed - 차감 전 실패 경로 (환불 불필요)
func (c *Coordinator) markFailed(ctx context.Context, requestID string) {
	if err := c.store.UpsertRequest(ctx, requestID, map[string]interface{}{
		"status": model.StatusFailed,
	}); err != nil {
		log.Printf("❌ [Train] Failed to mark request %s failed: %v", requestID, err)
	}
}

// failWithRefund - 차감 이후 실패 경로
// 요청을 failed로 기록하고, 차감된 경우 정확히 차감액만큼 1회 환불
func (c *Coordinator) failWithRefund(ctx context.Context, job Job, deducted bool, fee int) {
	if err := c.store.UpdateRequest(ctx, job.RequestID, map[string]interface{}{
		"status": model.StatusFailed,
	}); err != nil {
		// 상태가 pending으로 남으면 재시작 복구가 이 요청을 다시 정산하므로
		// 여기서 환불까지 하면 이중 환불이 된다
		log.Printf("❌ [Train] Failed to mark request %s failed: %v (refund deferred to recovery)", job.RequestID, err)
		return
	}

	if !deducted {
		return
	}

	// 환불 실패는 로그만 남긴다 (상태 기록을 되돌리지 않음)
	if err := c.ledger.Refund(ctx, job.UserID, fee); err != nil {
		log.Printf("❌ [Train] Refund failed for request %s: %v", job.RequestID, err)
		return
	}

	log.Printf("💰 [Train] Refunded %d credits for request %s", fee, job.RequestID)
}
