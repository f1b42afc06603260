package webhook

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"

	"coupleshot-server/modules/common/config"
)

const dedupTTL = 24 * time.Hour

// Event - RevenueCat webhook 이벤트 (필요한 필드만)
type Event struct {
	Type                  string  `json:"type"`
	AppUserID             string  `json:"app_user_id"`
	ProductID             string  `json:"product_id"`
	TransactionID         string  `json:"transaction_id"`
	OriginalTransactionID string  `json:"original_transaction_id"`
	PurchasedAtMs         int64   `json:"purchased_at_ms"`
	Price                 float64 `json:"price"`
	PeriodType            string  `json:"period_type"`
}

// Payload - webhook 요청 본문
type Payload struct {
	Event Event `json:"event"`
}

// Ledger - 코인 지급
type Ledger interface {
	AddCoins(ctx context.Context, userID string, amount int) (int, error)
}

// Store - 구매 이력 기록
type Store interface {
	InsertPurchase(ctx context.Context, fields map[string]interface{}) error
}

// TxnStore - 트랜잭션 중복 전송 차단
type TxnStore interface {
	Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisTxnStore - Redis SETNX 기반 TxnStore
type RedisTxnStore struct {
	rdb *goredis.Client
}

// NewRedisTxnStore - RedisTxnStore 생성
func NewRedisTxnStore(rdb *goredis.Client) *RedisTxnStore {
	return &RedisTxnStore{rdb: rdb}
}

func (s *RedisTxnStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisTxnStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Handler - RevenueCat webhook Handler
// 같은 트랜잭션의 중복 전송은 TxnStore로 걸러낸다
type Handler struct {
	ledger Ledger
	store  Store
	txns   TxnStore
	cfg    *config.Config
}

// NewHandler - Handler 생성 (txns는 nil 허용, dedup 없이 동작)
func NewHandler(ledger Ledger, store Store, txns TxnStore, cfg *config.Config) *Handler {
	return &Handler{
		ledger: ledger,
		store:  store,
		txns:   txns,
		cfg:    cfg,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/webhook", h.HandleWebhook).Methods("POST")
	log.Println("✅ [Webhook] Routes registered: /webhook")
}

// HandleWebhook - POST /webhook
// RevenueCat은 2xx가 아니면 재전송하므로, 처리 불가 이벤트도 200으로 받는다
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("❌ [Webhook] Invalid payload: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid payload"})
		return
	}

	event := payload.Event
	log.Printf("📥 [Webhook] Event: %s (user: %s, tx: %s)", event.Type, event.AppUserID, event.TransactionID)

	if event.Type != "RENEWAL" {
		log.Printf("📝 [Webhook] Ignoring event type: %s", event.Type)
		json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}

	if event.AppUserID == "" || event.OriginalTransactionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "app_user_id and original_transaction_id are required"})
		return
	}

	// 상품별 지급량. 등록되지 않은 상품은 0코인으로 기록만 남긴다
	product, known := h.cfg.SubscriptionProducts[event.ProductID]
	if !known {
		log.Printf("⚠️ [Webhook] Unknown product %s, crediting 0 coins", event.ProductID)
	}

	ctx := r.Context()

	if !h.claimTransaction(ctx, event) {
		log.Printf("🔄 [Webhook] Duplicate transaction %s, skipping", event.OriginalTransactionID)
		json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
		return
	}

	var newBalance int
	if product.Coins > 0 {
		balance, err := h.ledger.AddCoins(ctx, event.AppUserID, product.Coins)
		if err != nil {
			log.Printf("❌ [Webhook] Failed to add coins for user %s: %v", event.AppUserID, err)
			// 지급 실패 시 dedup 키를 돌려놓아 재전송이 재시도되게 한다
			h.releaseTransaction(ctx, event)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "Failed to credit coins"})
			return
		}
		newBalance = balance
	}

	purchaseDate := time.UnixMilli(event.PurchasedAtMs).UTC().Format(time.RFC3339)
	if err := h.store.InsertPurchase(ctx, map[string]interface{}{
		"user_id":         event.AppUserID,
		"product_id":      event.ProductID,
		"product_title":   product.Title,
		"purchase_date":   purchaseDate,
		"package_type":    product.PackageType,
		"price":           0,
		"coins_added":     product.Coins,
		"transaction_id":  event.OriginalTransactionID,
		"purchase_number": nil,
	}); err != nil {
		// 코인은 이미 지급됐으므로 이력 실패는 로그만 남긴다
		log.Printf("⚠️ [Webhook] Failed to record purchase for tx %s: %v", event.TransactionID, err)
	}

	log.Printf("💰 [Webhook] Renewal credited: user %s +%d coins (balance: %d)",
		event.AppUserID, product.Coins, newBalance)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"balance": newBalance,
	})
}

// claimTransaction - 트랜잭션 점유; 처음이면 true
// TxnStore가 없으면 dedup 없이 처리한다
func (h *Handler) claimTransaction(ctx context.Context, event Event) bool {
	if h.txns == nil {
		return true
	}

	ok, err := h.txns.Claim(ctx, dedupKey(event.OriginalTransactionID), event.TransactionID, dedupTTL)
	if err != nil {
		log.Printf("⚠️ [Webhook] Dedup claim failed: %v (processing anyway)", err)
		return true
	}
	return ok
}

func (h *Handler) releaseTransaction(ctx context.Context, event Event) {
	if h.txns == nil {
		return
	}
	if err := h.txns.Release(ctx, dedupKey(event.OriginalTransactionID)); err != nil {
		log.Printf("⚠️ [Webhook] Failed to release dedup key: %v", err)
	}
}

func dedupKey(originalTransactionID string) string {
	return "webhook:tx:" + originalTransactionID
}
