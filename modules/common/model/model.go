package model

import "time"

// GenerateRequest 상태 (터미널 상태에서 되돌아가지 않음)
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// User - users 테이블 구조
type User struct {
	ID            string `json:"id"`
	CreditBalance int    `json:"credit_balance"`
	TrainCount    int    `json:"train_count"`
}

// GenerateRequest - generate_requests 테이블 구조
// CreditsDeducted가 환불 여부를 결정하는 유일한 플래그
type GenerateRequest struct {
	UUID            string    `json:"uuid"`
	UserID          string    `json:"user_id"`
	Status          string    `json:"status"`
	CreditsDeducted bool      `json:"credits_deducted"`
	ImageURL        string    `json:"image_url"`
	CreatedAt       time.Time `json:"created_at"`
}

// UserProduct - userproduct 테이블 구조
// RequestID로 GenerateRequest와 명시적으로 연결된다
type UserProduct struct {
	ID          int64   `json:"id"`
	UserID      string  `json:"user_id"`
	ProductID   string  `json:"product_id"` // 외부 학습 Job ID
	RequestID   string  `json:"request_id"`
	Status      string  `json:"status"`
	IsPaid      bool    `json:"isPaid"`
	Weights     *string `json:"weights"`
	ImageURLs   string  `json:"image_urls"`   // JSON 배열 문자열 (최대 3개)
	CoverImages string  `json:"cover_images"` // JSON 배열 문자열
	ImageCount  int     `json:"imageCount"`
}

// Prediction - predictions 테이블 구조
type Prediction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ProductID    string    `json:"product_id"`
	PredictionID string    `json:"prediction_id"`
	Categories   string    `json:"categories"`
	CreatedAt    time.Time `json:"created_at"`
}

// Purchase - user_purchase 테이블 구조
type Purchase struct {
	UserID         string  `json:"user_id"`
	ProductID      string  `json:"product_id"`
	ProductTitle   string  `json:"product_title"`
	PurchaseDate   string  `json:"purchase_date"`
	PackageType    string  `json:"package_type"`
	Price          float64 `json:"price"`
	CoinsAdded     int     `json:"coins_added"`
	TransactionID  string  `json:"transaction_id"`
	PurchaseNumber *string `json:"purchase_number"`
}
