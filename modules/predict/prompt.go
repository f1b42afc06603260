package predict

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const promptMaxAttempts = 3

// 모델이 안전 정책 등을 이유로 프롬프트 생성을 거부했을 때 나오는 문구들
var refusalMarkers = []string{
	"i cannot",
	"i can't",
	"i'm unable",
	"i am unable",
	"unable to assist",
	"cannot fulfill",
}

// PromptGenerator - 베이비 이미지 생성용 프롬프트를 만드는 인터페이스
type PromptGenerator interface {
	GeneratePrompt(ctx context.Context, theme string) (string, error)
}

// GeminiPromptGenerator - Gemini 기반 프롬프트 생성기
type GeminiPromptGenerator struct {
	apiKey    string
	modelName string
}

// NewGeminiPromptGenerator - 생성기 생성
func NewGeminiPromptGenerator(apiKey, modelName string) *GeminiPromptGenerator {
	return &GeminiPromptGenerator{
		apiKey:    apiKey,
		modelName: modelName,
	}
}

// GeneratePrompt - 테마를 받아 단일 라인 이미지 프롬프트 생성
// 429 또는 거부 응답이면 최대 3번까지 재시도한다
func (g *GeminiPromptGenerator) GeneratePrompt(ctx context.Context, theme string) (string, error) {
	instruction := buildInstruction(theme)

	var lastErr error
	for attempt := 1; attempt <= promptMaxAttempts; attempt++ {
		if attempt > 1 {
			log.Printf("🔄 [Prompt] Retry attempt %d/%d", attempt, promptMaxAttempts)
			time.Sleep(2 * time.Second)
		}

		text, err := g.generateOnce(ctx, instruction)
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return "", err
			}
			log.Printf("⚠️ [Prompt] Attempt %d failed: %v", attempt, err)
			continue
		}

		if isRefusal(text) {
			lastErr = errors.New("model refused to generate a prompt")
			log.Printf("⚠️ [Prompt] Attempt %d refused, retrying", attempt)
			continue
		}

		return text, nil
	}

	return "", fmt.Errorf("prompt generation exhausted %d attempts: %w", promptMaxAttempts, lastErr)
}

func (g *GeminiPromptGenerator) generateOnce(ctx context.Context, instruction string) (string, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.modelName)
	resp, err := model.GenerateContent(ctx, genai.Text(instruction))
	if err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("empty response from gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	// 프롬프트는 단일 라인이어야 한다
	flat := strings.Join(strings.Fields(sb.String()), " ")
	if flat == "" {
		return "", errors.New("gemini returned no text parts")
	}

	return flat, nil
}

func buildInstruction(theme string) string {
	return "Write a single-line image generation prompt of about 400 words describing a cute baby photo. " +
		"The baby is the subject TOK. Theme: " + theme + ". " +
		"Describe lighting, composition, outfit, and background in rich photographic detail. " +
		"Output only the prompt text with no preamble, no line breaks, and no quotation marks."
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(msg, "rate limit")
}

func isRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
