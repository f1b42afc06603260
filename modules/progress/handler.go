package progress

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"coupleshot-server/modules/training"
)

const pollInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 모바일 클라이언트 연결 허용
		return true
	},
}

// Handler - 학습 진행률 WebSocket 푸시 Handler
// 클라이언트가 HTTP 폴링 대신 연결 하나로 진행률을 받아볼 수 있게 한다
type Handler struct {
	service *training.Service
}

// NewHandler - Handler 생성
func NewHandler(service *training.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/training", h.HandleTrainingProgress).Methods("GET")
	log.Println("✅ [Progress] Routes registered: /ws/training")
}

// HandleTrainingProgress - GET /ws/training?training_id=&user_id=
// 터미널 상태에 도달하면 마지막 메시지를 보내고 연결을 닫는다
func (h *Handler) HandleTrainingProgress(w http.ResponseWriter, r *http.Request) {
	trainingID := r.URL.Query().Get("training_id")
	userID := r.URL.Query().Get("user_id")

	if trainingID == "" || userID == "" {
		http.Error(w, "training_id and user_id are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ [Progress] WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("🔌 [Progress] Client connected for training %s", trainingID)

	// 클라이언트가 끊으면 읽기 루프가 ctx 없이도 알려준다
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		status := h.service.GetStatus(r.Context(), trainingID, userID)

		payload, err := json.Marshal(status)
		if err != nil {
			log.Printf("⚠️ [Progress] Failed to marshal status: %v", err)
			return
		}

		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️ [Progress] Write failed for training %s: %v", trainingID, err)
			}
			return
		}

		if isTerminal(status.Status) {
			log.Printf("🏁 [Progress] Training %s reached %s, closing connection", trainingID, status.Status)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, status.Status))
			return
		}

		select {
		case <-ticker.C:
		case <-disconnected:
			log.Printf("🔌 [Progress] Client disconnected from training %s", trainingID)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func isTerminal(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}
