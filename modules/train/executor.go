package train

import (
	"log"
	"sync"
)

// Executor - 분리 실행되는 백그라운드 작업 러너
// 모든 작업은 터미널 상태까지 실행되고, panic은 잡아서 로그로 남긴다
type Executor struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	open bool
}

// NewExecutor - Executor 생성 (닫힌 상태로 시작, 복구 완료 후 Open)
func NewExecutor() *Executor {
	return &Executor{}
}

// Open - 신규 작업 수락 시작
// 재시작 복구 스윕이 끝나기 전에는 호출하지 않는다
func (e *Executor) Open() {
	e.mu.Lock()
	e.open = true
	e.mu.Unlock()
	log.Println("✅ [Executor] Accepting new jobs")
}

// Submit - 작업 제출; 수락되면 true
func (e *Executor) Submit(name string, fn func()) bool {
	e.mu.Lock()
	if !e.open {
		e.mu.Unlock()
		log.Printf("⚠️ [Executor] Rejected job %s: executor not open yet", name)
		return false
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("❌ [Executor] Job %s panicked: %v", name, r)
			}
		}()

		fn()
	}()

	return true
}

// Wait - 진행 중인 모든 작업 완료 대기 (테스트/종료용)
func (e *Executor) Wait() {
	e.wg.Wait()
}
