package balance

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"coupleshot-server/modules/common/model"
)

// BalanceResponse - 잔액 응답 (정산 반영된 제품 목록 포함)
type BalanceResponse struct {
	Success  bool                `json:"success"`
	Balance  int                 `json:"balance"`
	Products []model.UserProduct `json:"products,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Handler - Balance HTTP Handler
type Handler struct {
	service *Service
}

// NewHandler - Handler 생성
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/getBalance/{userId}", h.HandleGetBalance).Methods("GET", "OPTIONS")
	log.Println("✅ [Balance] Routes registered: /getBalance/{userId}")
}

// HandleGetBalance - GET /getBalance/{userId}
func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	userID := mux.Vars(r)["userId"]
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(BalanceResponse{
			Success: false,
			Error:   "userId is required",
		})
		return
	}

	credits, products, err := h.service.GetBalanceWithTimeout(r.Context(), userID)
	if err != nil {
		log.Printf("❌ [Balance] Failed to get balance for user %s: %v", userID, err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(BalanceResponse{
			Success: false,
			Error:   "Failed to get balance",
		})
		return
	}

	json.NewEncoder(w).Encode(BalanceResponse{
		Success:  true,
		Balance:  credits,
		Products: products,
	})
}
