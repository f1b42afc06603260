package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Supabase
	SupabaseURL            string
	SupabaseServiceKey     string
	SupabaseStorageBaseURL string

	// Replicate
	ReplicateAPIToken string
	ReplicateOwner    string // 학습 모델이 생성될 계정
	TrainerOwner      string
	TrainerModel      string
	TrainerVersion    string
	RemoveBgVersion   string
	TrainerHardware   string
	PredictionVersion string // 이미지 생성에 쓰는 flux-dev-lora 버전
	BabyModelVersion  string // 아기 얼굴 합성 모델 버전

	// Gemini API
	GeminiAPIKey string
	GeminiModel  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Server
	Port string

	// Credit 정책 테이블
	TrainFee             int // 학습 1회 비용 (첫 학습은 무료)
	RecoveryRefund       int // 재시작 복구 시 이미 차감된 요청에 환불되는 금액
	ReconcileRefund      int // 학습 실패 정산 시 환불 금액
	PredictionImagePrice int // 무료 한도 초과 후 이미지당 비용
	FreePredictionLimit  int // 이미지 생성 무료 한도

	// 구독 상품 테이블 (product_id → 지급 내역)
	SubscriptionProducts map[string]SubscriptionProduct
}

// SubscriptionProduct - 구독 상품별 지급 코인과 표기 정보
type SubscriptionProduct struct {
	Coins       int
	Title       string
	PackageType string
}

// DefaultSubscriptionProducts - 스토어에 등록된 구독 상품 테이블
func DefaultSubscriptionProducts() map[string]SubscriptionProduct {
	return map[string]SubscriptionProduct{
		"com.monailisa.coupleshot_500coin_weekly": {
			Coins:       500,
			Title:       "500 Coin Weekly",
			PackageType: "weekly_subscription",
		},
		"com.coupleshot.1500coin_yearly": {
			Coins:       500,
			Title:       "500 Coin Weekly (Yearly Plan)",
			PackageType: "yearly_subscription",
		},
	}
}

var globalConfig *Config

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	// Redis UseTLS 파싱
	useTLS := true // 기본값
	if tlsStr := os.Getenv("REDIS_USE_TLS"); tlsStr != "" {
		if parsed, err := strconv.ParseBool(tlsStr); err == nil {
			useTLS = parsed
		}
	}

	globalConfig = &Config{
		// Supabase
		SupabaseURL:            getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:     getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBaseURL: getEnv("SUPABASE_STORAGE_BASE_URL", ""),

		// Replicate
		ReplicateAPIToken: getEnv("REPLICATE_API_TOKEN", ""),
		ReplicateOwner:    getEnv("REPLICATE_OWNER", "nodselemen"),
		TrainerOwner:      getEnv("TRAINER_OWNER", "ostris"),
		TrainerModel:      getEnv("TRAINER_MODEL", "flux-dev-lora-trainer"),
		TrainerVersion:    getEnv("TRAINER_VERSION", "e440909d3512c31646ee2e0c7d6f6f4923224863a6a10c494606e79fb5844497"),
		RemoveBgVersion:   getEnv("REMOVE_BG_VERSION", "4067ee2a58f6c161d434a9c077cfa012820b8e076efa2772aa171e26557da919"),
		TrainerHardware:   getEnv("TRAINER_HARDWARE", "gpu-a100-large"),
		PredictionVersion: getEnv("PREDICTION_VERSION", "2389224e115448d9a77c07d7d45672b3f0aa45acacf1c5bcf51857ac295e3aec"),
		BabyModelVersion:  getEnv("BABY_MODEL_VERSION", "ba5ab694a9df055fa469e55eeab162cc288039da0abd8b19d956980cc3b49f6d"),

		// Gemini API
		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   useTLS,

		// Server
		Port: getEnv("PORT", "8080"),

		// Credit 정책
		TrainFee:             getEnvInt("TRAIN_FEE", 100),
		RecoveryRefund:       getEnvInt("RECOVERY_REFUND", 100),
		ReconcileRefund:      getEnvInt("RECONCILE_REFUND", 300),
		PredictionImagePrice: getEnvInt("PREDICTION_IMAGE_PRICE", 5),
		FreePredictionLimit:  getEnvInt("FREE_PREDICTION_LIMIT", 30),

		// 구독 상품
		SubscriptionProducts: DefaultSubscriptionProducts(),
	}

	// 필수 환경변수 검증
	if err := globalConfig.validate(); err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Supabase: %s", globalConfig.SupabaseURL)
	log.Printf("   Replicate trainer: %s/%s", globalConfig.TrainerOwner, globalConfig.TrainerModel)
	log.Printf("   Gemini: %s", globalConfig.GeminiModel)
	log.Printf("   Redis: %s:%s (TLS: %v)", globalConfig.RedisHost, globalConfig.RedisPort, globalConfig.RedisUseTLS)
	log.Printf("   Credit: train=%d, reconcile refund=%d, image=%d (free under %d)",
		globalConfig.TrainFee, globalConfig.ReconcileRefund,
		globalConfig.PredictionImagePrice, globalConfig.FreePredictionLimit)

	return globalConfig, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		log.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// SetConfigForTest - 테스트에서 전역 설정 주입
func SetConfigForTest(cfg *Config) {
	globalConfig = cfg
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	if c.ReplicateAPIToken == "" {
		return fmt.Errorf("REPLICATE_API_TOKEN is required")
	}
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	return nil
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt - 정수 환경변수 가져오기 (기본값 지원)
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}
