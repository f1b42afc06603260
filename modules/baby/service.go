package baby

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/replicate"
)

const (
	defaultSteps  = 25
	defaultWidth  = 512
	defaultHeight = 728
	defaultGender = "girl"

	// 합성 모델이 동기 응답 가능한 수준으로 빠르므로 요청 안에서 기다린다
	awaitTimeout  = 120 * time.Second
	awaitInterval = 2 * time.Second
)

// ErrMissingParents - 부모 사진 두 장이 모두 필요
var ErrMissingParents = errors.New("both parent images are required")

// JobClient - 합성 Job 생성/대기
type JobClient interface {
	CreatePrediction(ctx context.Context, version string, input map[string]interface{}) (*replicate.Job, error)
	AwaitCompletion(ctx context.Context, kind, id string, timeout, interval time.Duration) (*replicate.Job, error)
}

// Service - 부모 사진 두 장으로 아기 얼굴을 합성
type Service struct {
	jobs JobClient
	cfg  *config.Config
}

// NewService - Service 생성
func NewService(jobs JobClient, cfg *config.Config) *Service {
	return &Service{jobs: jobs, cfg: cfg}
}

// GenerateRequest - 합성 요청
type GenerateRequest struct {
	Image  string `json:"image"`
	Image2 string `json:"image2"`
	Steps  int    `json:"steps"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Gender string `json:"gender"`
}

// GenerateResult - 합성 결과
type GenerateResult struct {
	ParentImage1       string `json:"parentImage1"`
	ParentImage2       string `json:"parentImage2"`
	Output             string `json:"output"`
	GeneratedBabyImage string `json:"generatedBabyImage"`
}

// Generate - 아기 얼굴 합성을 제출하고 완료까지 기다린다
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	if req.Image == "" || req.Image2 == "" {
		return nil, ErrMissingParents
	}

	if req.Steps <= 0 {
		req.Steps = defaultSteps
	}
	if req.Width <= 0 {
		req.Width = defaultWidth
	}
	if req.Height <= 0 {
		req.Height = defaultHeight
	}
	if req.Gender == "" {
		req.Gender = defaultGender
	}

	job, err := s.jobs.CreatePrediction(ctx, s.cfg.BabyModelVersion, map[string]interface{}{
		"image":  req.Image,
		"image2": req.Image2,
		"steps":  req.Steps,
		"width":  req.Width,
		"height": req.Height,
		"gender": req.Gender,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit baby generation: %w", err)
	}

	log.Printf("👶 [Baby] Generation started: %s (gender: %s)", job.ID, req.Gender)

	finished, err := s.jobs.AwaitCompletion(ctx, replicate.KindPrediction, job.ID, awaitTimeout, awaitInterval)
	if err != nil {
		return nil, fmt.Errorf("baby generation %s did not finish: %w", job.ID, err)
	}

	output := finished.OutputURL()
	log.Printf("✅ [Baby] Generation finished: %s", job.ID)

	return &GenerateResult{
		ParentImage1:       req.Image,
		ParentImage2:       req.Image2,
		Output:             output,
		GeneratedBabyImage: output,
	}, nil
}
