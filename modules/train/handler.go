package train

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

const maxUploadBytes = 50 << 20 // 50MB

// AckResponse - 접수 응답 (처리 결과가 아니라 접수 사실만 알린다)
type AckResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handler - Train HTTP Handler
type Handler struct {
	coordinator *Coordinator
	executor    *Executor
}

// NewHandler - Handler 생성
func NewHandler(coordinator *Coordinator, executor *Executor) *Handler {
	return &Handler{
		coordinator: coordinator,
		executor:    executor,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/generateTrain", h.HandleGenerateTrain).Methods("POST", "OPTIONS")
	log.Println("✅ [Train] Routes registered: /generateTrain")
}

// HandleGenerateTrain - POST /generateTrain
// multipart 업로드를 파싱해 즉시 접수 응답을 보내고, 실제 처리는 분리 실행한다
func (h *Handler) HandleGenerateTrain(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		log.Printf("❌ [Train] Invalid multipart form: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(AckResponse{
			Success: false,
			Error:   "Invalid multipart form",
		})
		return
	}

	requestID := r.FormValue("request_id")
	userID := r.FormValue("user_id")
	imageURL := r.FormValue("image_url")

	if requestID == "" || userID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(AckResponse{
			Success: false,
			Error:   "request_id and user_id are required",
		})
		return
	}

	// 응답 이후에는 r.Body를 읽을 수 없으므로 파일을 먼저 메모리로 복사
	files := []UploadFile{}
	if r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, header := range headers {
				file, err := header.Open()
				if err != nil {
					log.Printf("⚠️ [Train] Failed to open upload %s: %v", header.Filename, err)
					continue
				}

				data, err := io.ReadAll(file)
				file.Close()
				if err != nil {
					log.Printf("⚠️ [Train] Failed to read upload %s: %v", header.Filename, err)
					continue
				}

				files = append(files, UploadFile{
					OriginalName: header.Filename,
					ContentType:  header.Header.Get("Content-Type"),
					Data:         data,
				})
			}
		}
	}

	log.Printf("📥 [Train] Received request %s (user: %s, files: %d)", requestID, userID, len(files))

	job := Job{
		RequestID: requestID,
		UserID:    userID,
		ImageURL:  imageURL,
		Files:     files,
	}

	// 요청 컨텍스트는 응답과 함께 취소되므로 분리 실행에는 쓰지 않는다
	if !h.executor.Submit("train:"+requestID, func() {
		h.coordinator.Run(context.Background(), job)
	}) {
		log.Printf("⚠️ [Train] Executor rejected request %s (shutting down?)", requestID)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(AckResponse{
			Success: false,
			Error:   "Server is not accepting requests",
		})
		return
	}

	json.NewEncoder(w).Encode(AckResponse{
		Success:   true,
		Message:   "Training request accepted",
		RequestID: requestID,
	})
}
