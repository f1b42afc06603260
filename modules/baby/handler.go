package baby

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// Handler - Baby HTTP Handler
type Handler struct {
	service *Service
}

// NewHandler - Handler 생성
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/generateBaby", h.HandleGenerate).Methods("POST", "OPTIONS")
	log.Println("✅ [Baby] Routes registered: /generateBaby")
}

// HandleGenerate - POST /generateBaby
// 합성은 수십 초 안에 끝나므로 응답까지 동기로 기다린다
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

	result, err := h.service.Generate(r.Context(), req)
	if err != nil {
		if errors.Is(err, ErrMissingParents) {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "Both parent images are required"})
			return
		}
		log.Printf("❌ [Baby] Generation failed: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "Failed to generate baby image"})
		return
	}

	json.NewEncoder(w).Encode(result)
}
