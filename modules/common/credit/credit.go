package credit

import (
	"context"
	"errors"
	"fmt"
	"log"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/database"
	"coupleshot-server/modules/common/model"
)

// 크레딧 차감/환불 에러
var (
	ErrInsufficientCredit = errors.New("insufficient credit balance")
	ErrUserNotFound       = errors.New("user not found")
)

// UserStore - Ledger가 필요로 하는 최소한의 저장소 연산
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpdateUser(ctx context.Context, userID string, fields map[string]interface{}) error
}

// Ledger - 크레딧 정책 테이블 + 잔액 연산
// 멱등성 보장은 호출자 책임 (credits_deducted 플래그로 가드)
type Ledger struct {
	store  UserStore
	policy *config.Config
}

// NewLedger - Ledger 생성
func NewLedger(store UserStore, policy *config.Config) *Ledger {
	return &Ledger{
		store:  store,
		policy: policy,
	}
}

// QuoteTrain - 학습 1회 비용 계산 (첫 학습은 무료)
func (l *Ledger) QuoteTrain(hasProducts bool) int {
	if !hasProducts {
		return 0
	}
	return l.policy.TrainFee
}

// QuotePredictions - 이미지 생성 비용 계산
// 누적 생성 수가 무료 한도에 도달하면 이미지당 과금
func (l *Ledger) QuotePredictions(currentCount, imageCount int) int {
	if currentCount+imageCount < l.policy.FreePredictionLimit {
		return 0
	}
	return imageCount * l.policy.PredictionImagePrice
}

// Deduct - 잔액에서 amount 차감
// 잔액 부족이면 ErrInsufficientCredit, 부분 차감 없음
func (l *Ledger) Deduct(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return nil
	}

	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return fmt.Errorf("failed to fetch user for deduction: %w", err)
	}

	if user.CreditBalance < amount {
		log.Printf("💰 Insufficient credits: user=%s balance=%d needed=%d", userID, user.CreditBalance, amount)
		return ErrInsufficientCredit
	}

	newBalance := user.CreditBalance - amount
	if err := l.store.UpdateUser(ctx, userID, map[string]interface{}{
		"credit_balance": newBalance,
	}); err != nil {
		return fmt.Errorf("failed to deduct credits: %w", err)
	}

	log.Printf("💰 Credits deducted: user=%s %d → %d (-%d)", userID, user.CreditBalance, newBalance, amount)
	return nil
}

// Refund - 차감했던 금액 그대로 잔액에 가산
// 스냅샷 복원이 아니라 항상 정확히 amount만큼 더한다
func (l *Ledger) Refund(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return nil
	}

	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return fmt.Errorf("failed to fetch user for refund: %w", err)
	}

	newBalance := user.CreditBalance + amount
	if err := l.store.UpdateUser(ctx, userID, map[string]interface{}{
		"credit_balance": newBalance,
	}); err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}

	log.Printf("💰 Credits refunded: user=%s %d → %d (+%d)", userID, user.CreditBalance, newBalance, amount)
	return nil
}

// AddCoins - 구독 갱신 등 외부 이벤트로 코인 지급 (환불과 동일한 연산)
func (l *Ledger) AddCoins(ctx context.Context, userID string, amount int) (int, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return 0, fmt.Errorf("failed to fetch user for coin grant: %w", err)
	}

	newBalance := user.CreditBalance + amount
	if err := l.store.UpdateUser(ctx, userID, map[string]interface{}{
		"credit_balance": newBalance,
	}); err != nil {
		return 0, fmt.Errorf("failed to add coins: %w", err)
	}

	log.Printf("💰 Coins added: user=%s %d → %d (+%d)", userID, user.CreditBalance, newBalance, amount)
	return newBalance, nil
}
