package train

import (
	"context"
	"log"

	"coupleshot-server/modules/common/model"
)

// Recover - 서버 시작 시 pending으로 남은 요청을 정리
// 이전 프로세스가 처리 중 죽은 요청은 재개할 수 없으므로 failed로 전환하고,
// 크레딧이 차감된 요청에 한해 환불한다. 트래픽 수용 전에 완료되어야 한다.
func (c *Coordinator) Recover(ctx context.Context) {
	log.Println("🔄 [Recovery] Checking for pending requests...")

	pending, err := c.store.ListRequestsByStatus(ctx, model.StatusPending)
	if err != nil {
		log.Printf("❌ [Recovery] Failed to list pending requests: %v", err)
		return
	}

	if len(pending) == 0 {
		log.Println("✅ [Recovery] No pending requests found")
		return
	}

	log.Printf("⚠️ [Recovery] Found %d pending request(s)", len(pending))

	recovered := 0
	for _, request := range pending {
		// 한 건의 실패가 나머지 처리를 막지 않는다
		if err := c.store.UpdateRequest(ctx, request.UUID, map[string]interface{}{
			"status": model.StatusFailed,
		}); err != nil {
			log.Printf("❌ [Recovery] Failed to mark request %s failed: %v", request.UUID, err)
			continue
		}

		if request.CreditsDeducted {
			if err := c.ledger.Refund(ctx, request.UserID, c.cfg.RecoveryRefund); err != nil {
				log.Printf("❌ [Recovery] Refund failed for request %s: %v", request.UUID, err)
				continue
			}
			log.Printf("💰 [Recovery] Refunded %d credits to user %s (request: %s)",
				c.cfg.RecoveryRefund, request.UserID, request.UUID)
		}

		recovered++
	}

	log.Printf("🏁 [Recovery] Done: %d/%d request(s) recovered", recovered, len(pending))
}
