package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// 외부 Job 터미널 상태 에러
var (
	ErrJobFailed   = errors.New("replicate job failed")
	ErrJobCanceled = errors.New("replicate job canceled")
	ErrJobTimeout  = errors.New("replicate job timed out")
)

// Job 종류 (상태 조회 경로가 다름)
const (
	KindPrediction = "predictions"
	KindTraining   = "trainings"
)

// Job - Replicate prediction/training 공통 응답
type Job struct {
	ID     string                 `json:"id"`
	Status string                 `json:"status"` // starting, processing, succeeded, failed, canceled
	Logs   string                 `json:"logs"`
	Error  interface{}            `json:"error"`
	Input  map[string]interface{} `json:"input"`
	Output json.RawMessage        `json:"output"`
}

// IsTerminal - 터미널 상태 여부
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// OutputURL - output이 단일 URL 문자열이거나 URL 배열일 때 첫 URL 반환
func (j *Job) OutputURL() string {
	if len(j.Output) == 0 {
		return ""
	}

	var single string
	if err := json.Unmarshal(j.Output, &single); err == nil {
		return single
	}

	var list []string
	if err := json.Unmarshal(j.Output, &list); err == nil && len(list) > 0 {
		return list[0]
	}

	return ""
}

// WeightsURL - training output의 weights URL 반환 (없으면 빈 문자열)
func (j *Job) WeightsURL() string {
	if len(j.Output) == 0 {
		return ""
	}

	var out struct {
		Weights string `json:"weights"`
	}
	if err := json.Unmarshal(j.Output, &out); err != nil {
		return ""
	}
	return out.Weights
}

// InputImagesURL - training input의 input_images URL 반환 (zip 정리용)
func (j *Job) InputImagesURL() string {
	if j.Input == nil {
		return ""
	}
	url, _ := j.Input["input_images"].(string)
	return url
}

// Client - Replicate API 클라이언트
type Client struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
}

// NewClient - Client 생성
func NewClient(apiToken string) *Client {
	return &Client{
		apiToken: apiToken,
		baseURL:  defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// NewClientWithBaseURL - 테스트용 base URL 지정 생성자
func NewClientWithBaseURL(apiToken, baseURL string) *Client {
	c := NewClient(apiToken)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// doJSON - 공통 요청/응답 처리
func (c *Client) doJSON(ctx context.Context, method, url string, reqBody interface{}, out interface{}) error {
	var bodyReader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// CreateModel - 학습 결과가 저장될 private 모델 생성
func (c *Client) CreateModel(ctx context.Context, owner, name, hardware string) error {
	reqData := map[string]interface{}{
		"owner":      owner,
		"name":       name,
		"visibility": "private",
		"hardware":   hardware,
	}

	log.Printf("🚀 [Replicate] Creating model %s/%s...", owner, name)
	return c.doJSON(ctx, http.MethodPost, c.baseURL+"/models", reqData, nil)
}

// CreateTraining - 학습 Job 제출
func (c *Client) CreateTraining(ctx context.Context, trainerOwner, trainerModel, trainerVersion, destination string, input map[string]interface{}) (*Job, error) {
	url := fmt.Sprintf("%s/models/%s/%s/versions/%s/trainings",
		c.baseURL, trainerOwner, trainerModel, trainerVersion)

	reqData := map[string]interface{}{
		"destination": destination,
		"input":       input,
	}

	log.Printf("🚀 [Replicate] Creating training (destination: %s)...", destination)

	var job Job
	if err := c.doJSON(ctx, http.MethodPost, url, reqData, &job); err != nil {
		return nil, err
	}

	log.Printf("✅ [Replicate] Training created: %s (status: %s)", job.ID, job.Status)
	return &job, nil
}

// CreatePrediction - prediction Job 제출
func (c *Client) CreatePrediction(ctx context.Context, version string, input map[string]interface{}) (*Job, error) {
	reqData := map[string]interface{}{
		"version": version,
		"input":   input,
	}

	var job Job
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/predictions", reqData, &job); err != nil {
		return nil, err
	}

	log.Printf("✅ [Replicate] Prediction created: %s (status: %s)", job.ID, job.Status)
	return &job, nil
}

// Get - Job 상태 단건 조회
func (c *Client) Get(ctx context.Context, kind, id string) (*Job, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, kind, id)

	var job Job
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// AwaitCompletion - 터미널 상태까지 폴링 대기
// timeout 초과 시 ErrJobTimeout, 실패/취소 시 ErrJobFailed/ErrJobCanceled
func (c *Client) AwaitCompletion(ctx context.Context, kind, id string, timeout, interval time.Duration) (*Job, error) {
	log.Printf("⏳ [Replicate] Waiting for %s %s...", strings.TrimSuffix(kind, "s"), id)

	deadline := time.Now().Add(timeout)

	for {
		job, err := c.Get(ctx, kind, id)
		if err != nil {
			// 일시적인 조회 실패는 다음 폴링에서 재시도
			log.Printf("⚠️ [Replicate] Poll failed for %s: %v", id, err)
		} else {
			log.Printf("📊 [Replicate] %s status: %s", id, job.Status)

			switch job.Status {
			case "succeeded":
				log.Printf("✅ [Replicate] %s completed", id)
				return job, nil
			case "failed":
				return job, fmt.Errorf("%w: %s: %v", ErrJobFailed, id, job.Error)
			case "canceled":
				return job, fmt.Errorf("%w: %s", ErrJobCanceled, id)
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s after %s", ErrJobTimeout, id, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

var progressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`flux_train_replicate:\s*(\d+)%`),
	regexp.MustCompile(`(\d+)%\|`),
}

// ExtractProgress - 로그에서 진행률(0~100) 추출
// 패턴이 없으면 0, succeeded면 100 — 절대 에러를 내지 않는다
func ExtractProgress(logs, status string) int {
	if status == "succeeded" {
		return 100
	}

	lines := strings.Split(logs, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		for _, pattern := range progressPatterns {
			if match := pattern.FindStringSubmatch(lines[i]); match != nil {
				if pct, err := strconv.Atoi(match[1]); err == nil {
					return pct
				}
			}
		}
	}

	return 0
}
