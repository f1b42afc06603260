package predict

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"coupleshot-server/modules/common/credit"
)

// Handler - Predict HTTP Handler
type Handler struct {
	service *Service
}

// NewHandler - Handler 생성
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/generatePredictions", h.HandleGenerate).Methods("POST", "OPTIONS")
	r.HandleFunc("/getPredictions/{userId}", h.HandleList).Methods("GET", "OPTIONS")
	log.Println("✅ [Predict] Routes registered: /generatePredictions, /getPredictions/{userId}")
}

// HandleGenerate - POST /generatePredictions
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "Invalid request body"})
		return
	}

	if req.UserID == "" || req.ProductID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "user_id and product_id are required"})
		return
	}

	result, err := h.service.Generate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, credit.ErrInsufficientCredit):
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(map[string]string{"error": "Insufficient credits"})
		case errors.Is(err, ErrNoWeights):
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "Training is not finished yet"})
		default:
			log.Printf("❌ [Predict] Generate failed: %v", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "Failed to generate predictions"})
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}

// HandleList - GET /getPredictions/{userId}?limit=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	userID := mux.Vars(r)["userId"]
	if userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "userId is required"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "limit must be a number"})
			return
		}
		limit = parsed
	}

	views, err := h.service.List(r.Context(), userID, limit)
	if err != nil {
		log.Printf("❌ [Predict] List failed for user %s: %v", userID, err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Failed to list predictions"})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"predictions": views,
		"count":       len(views),
	})
}
