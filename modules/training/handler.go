package training

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler - Training 상태 조회 HTTP Handler
type Handler struct {
	service *Service
}

// NewHandler - Handler 생성
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/training/{trainingId}", h.HandleGetTraining).Methods("GET", "OPTIONS")
	log.Println("✅ [Training] Routes registered: /training/{trainingId}")
}

// HandleGetTraining - GET /training/{trainingId}?user_id=
// 제공자 오류를 포함해 항상 200으로 응답한다 (클라이언트는 status 필드만 본다)
func (h *Handler) HandleGetTraining(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	trainingID := mux.Vars(r)["trainingId"]
	userID := r.URL.Query().Get("user_id")

	if trainingID == "" || userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "trainingId and user_id are required",
		})
		return
	}

	status := h.service.GetStatus(r.Context(), trainingID, userID)
	json.NewEncoder(w).Encode(status)
}
