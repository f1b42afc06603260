package train

// UploadFile - 멀티파트로 업로드된 원본 파일
type UploadFile struct {
	OriginalName string
	ContentType  string
	Data         []byte
}

// Job - 학습 요청 한 건의 입력
type Job struct {
	RequestID string
	UserID    string
	ImageURL  string
	Files     []UploadFile
}

// combinedImage - 병합 단계 결과물
type combinedImage struct {
	Index    string
	URL      string
	FileName string
	Data     []byte
}

// processedImage - 배경 제거까지 끝난 결과물
type processedImage struct {
	Index     string
	OutputURL string
}
