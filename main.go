package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"coupleshot-server/modules/baby"
	"coupleshot-server/modules/balance"
	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/credit"
	"coupleshot-server/modules/common/database"
	redisClient "coupleshot-server/modules/common/redis"
	"coupleshot-server/modules/common/replicate"
	"coupleshot-server/modules/common/storage"
	"coupleshot-server/modules/predict"
	"coupleshot-server/modules/progress"
	"coupleshot-server/modules/train"
	"coupleshot-server/modules/training"
	"coupleshot-server/modules/webhook"
)

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "coupleshot-server",
	})
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// 공용 클라이언트 초기화
	db := database.NewClient()
	if db == nil {
		log.Fatal("❌ Failed to connect to database")
	}

	ledger := credit.NewLedger(db, cfg)
	jobs := replicate.NewClient(cfg.ReplicateAPIToken)
	objStorage := storage.NewClient()

	// Redis는 선택적 (없으면 dedup/캐시 없이 동작)
	rdb := redisClient.Connect(cfg)
	if rdb == nil {
		log.Println("⚠️ Redis unavailable, running without dedup and progress cache")
	}

	// 모듈 조립
	coordinator := train.NewCoordinator(db, ledger, jobs, objStorage, cfg)
	executor := train.NewExecutor()

	// 재시작 복구: pending으로 남은 요청을 정리한 뒤에만 트래픽을 받는다
	coordinator.Recover(context.Background())
	executor.Open()

	balanceService := balance.NewService(db, ledger, jobs, cfg)
	trainingService := training.NewService(db, jobs, objStorage, balanceService, rdb)
	prompts := predict.NewGeminiPromptGenerator(cfg.GeminiAPIKey, cfg.GeminiModel)
	predictService := predict.NewService(db, ledger, jobs, prompts, cfg)
	babyService := baby.NewService(jobs, cfg)

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")

	var txns webhook.TxnStore
	if rdb != nil {
		txns = webhook.NewRedisTxnStore(rdb)
	}

	train.NewHandler(coordinator, executor).RegisterRoutes(r)
	balance.NewHandler(balanceService).RegisterRoutes(r)
	training.NewHandler(trainingService).RegisterRoutes(r)
	predict.NewHandler(predictService).RegisterRoutes(r)
	baby.NewHandler(babyService).RegisterRoutes(r)
	webhook.NewHandler(ledger, db, txns, cfg).RegisterRoutes(r)
	progress.NewHandler(trainingService).RegisterRoutes(r)

	log.Printf("🚀 CoupleShot Server starting on port %s", cfg.Port)
	log.Printf("❤️  Health check: http://localhost:%s/health", cfg.Port)

	// 서버 시작
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
