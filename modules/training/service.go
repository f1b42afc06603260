package training

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"coupleshot-server/modules/common/model"
	"coupleshot-server/modules/common/replicate"
)

const (
	progressCacheTTL = 20 * time.Second
	zipsBucket       = "zips"
)

// TrainingStatus - 상태 조회 결과
type TrainingStatus struct {
	TrainingID string `json:"training_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
}

// Store - 소유권 확인용 저장소 연산
type Store interface {
	GetProductByID(ctx context.Context, productID, userID string) (*model.UserProduct, error)
}

// JobClient - 학습 Job 조회
type JobClient interface {
	Get(ctx context.Context, kind, id string) (*replicate.Job, error)
}

// ObjectStorage - 입력 zip 정리용
type ObjectStorage interface {
	Remove(ctx context.Context, bucket, path string) error
}

// Settler - 터미널 상태의 학습을 제품 로우에 정산
type Settler interface {
	Settle(ctx context.Context, userID string, product model.UserProduct, training *replicate.Job)
}

// Service - 학습 진행률 조회
// Redis에 진행률을 짧게 캐시해 폴링 클라이언트가 제공자를 직접 두드리지 않게 한다
type Service struct {
	store   Store
	jobs    JobClient
	storage ObjectStorage
	settler Settler
	rdb     *goredis.Client
}

// NewService - Service 생성 (rdb는 nil 허용, 캐시 없이 동작)
func NewService(store Store, jobs JobClient, objStorage ObjectStorage, settler Settler, rdb *goredis.Client) *Service {
	return &Service{
		store:   store,
		jobs:    jobs,
		storage: objStorage,
		settler: settler,
		rdb:     rdb,
	}
}

// GetStatus - 학습 상태와 진행률 조회
// 제공자 오류는 클라이언트 입장에서 실패한 학습과 구분할 이유가 없으므로
// failed/0으로 내려보낸다 (에러를 반환하지 않는다)
func (s *Service) GetStatus(ctx context.Context, trainingID, userID string) TrainingStatus {
	// 소유권 확인: 남의 학습 상태는 조회할 수 없다
	product, err := s.store.GetProductByID(ctx, trainingID, userID)
	if err != nil {
		log.Printf("⚠️ [Training] Ownership check failed for %s (user: %s): %v", trainingID, userID, err)
		return TrainingStatus{TrainingID: trainingID, Status: model.StatusFailed, Progress: 0}
	}

	if cached, ok := s.cachedProgress(ctx, trainingID); ok {
		return cached
	}

	job, err := s.jobs.Get(ctx, replicate.KindTraining, trainingID)
	if err != nil {
		log.Printf("⚠️ [Training] Provider query failed for %s: %v", trainingID, err)
		return TrainingStatus{TrainingID: trainingID, Status: model.StatusFailed, Progress: 0}
	}

	progress := replicate.ExtractProgress(job.Logs, job.Status)
	status := TrainingStatus{
		TrainingID: trainingID,
		Status:     job.Status,
		Progress:   progress,
	}

	s.cacheProgress(ctx, status)

	// 터미널 상태면 잔액 조회를 기다리지 않고 여기서도 정산한다
	switch job.Status {
	case "succeeded", "failed", "canceled":
		if s.settler != nil {
			s.settler.Settle(ctx, userID, *product, job)
		}
	}

	// 성공한 학습의 입력 zip은 더 이상 필요 없다
	if job.Status == "succeeded" {
		s.cleanupInputZip(ctx, job)
	}

	return status
}

func (s *Service) cachedProgress(ctx context.Context, trainingID string) (TrainingStatus, bool) {
	if s.rdb == nil {
		return TrainingStatus{}, false
	}

	val, err := s.rdb.Get(ctx, progressKey(trainingID)).Result()
	if err != nil {
		return TrainingStatus{}, false
	}

	var status, progressPart string
	if idx := strings.LastIndex(val, "|"); idx >= 0 {
		status, progressPart = val[:idx], val[idx+1:]
	} else {
		return TrainingStatus{}, false
	}

	var progress int
	if _, err := fmt.Sscanf(progressPart, "%d", &progress); err != nil {
		return TrainingStatus{}, false
	}

	return TrainingStatus{TrainingID: trainingID, Status: status, Progress: progress}, true
}

func (s *Service) cacheProgress(ctx context.Context, status TrainingStatus) {
	if s.rdb == nil {
		return
	}

	val := fmt.Sprintf("%s|%d", status.Status, status.Progress)
	if err := s.rdb.Set(ctx, progressKey(status.TrainingID), val, progressCacheTTL).Err(); err != nil {
		log.Printf("⚠️ [Training] Failed to cache progress for %s: %v", status.TrainingID, err)
	}
}

func progressKey(trainingID string) string {
	return "training:progress:" + trainingID
}

// cleanupInputZip - 학습 입력으로 쓰인 zip 삭제
func (s *Service) cleanupInputZip(ctx context.Context, job *replicate.Job) {
	zipURL := job.InputImagesURL()
	if zipURL == "" {
		return
	}

	parsed, err := url.Parse(zipURL)
	if err != nil {
		return
	}

	// .../storage/v1/object/public/zips/<path> 형태에서 경로 추출
	marker := "/" + zipsBucket + "/"
	idx := strings.Index(parsed.Path, marker)
	if idx < 0 {
		return
	}
	path := parsed.Path[idx+len(marker):]

	if err := s.storage.Remove(ctx, zipsBucket, path); err != nil {
		log.Printf("⚠️ [Training] Failed to delete input zip %s: %v", path, err)
		return
	}

	log.Printf("🗑️ [Training] Deleted input zip: %s", path)
}
