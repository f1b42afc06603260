package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"coupleshot-server/modules/common/config"
)

type Client struct {
	baseURL       string
	publicBaseURL string // CDN 도메인 등 public URL 전용 베이스
	serviceKey    string
	httpClient    *http.Client
}

// NewClient - Storage 클라이언트 생성
func NewClient() *Client {
	cfg := config.GetConfig()

	publicBase := cfg.SupabaseStorageBaseURL
	if publicBase == "" {
		publicBase = cfg.SupabaseURL
	}

	return &Client{
		baseURL:       cfg.SupabaseURL,
		publicBaseURL: publicBase,
		serviceKey:    cfg.SupabaseServiceKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Upload - Supabase Storage에 파일 업로드
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)

	log.Printf("📤 Uploading to storage: %s/%s (%d bytes)", bucket, path, len(data))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("✅ Uploaded: %s/%s", bucket, path)
	return nil
}

// PublicURL - 업로드된 오브젝트의 public URL 생성
func (c *Client) PublicURL(bucket, path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.publicBaseURL, bucket, path)
}

// Download - URL에서 파일 다운로드
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	log.Printf("📥 Downloading: %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read download body: %w", err)
	}

	log.Printf("✅ Downloaded %d bytes", len(data))
	return data, nil
}

// Remove - 버킷에서 오브젝트 삭제 (학습 성공 후 zip 정리용)
func (c *Client) Remove(ctx context.Context, bucket, path string) error {
	removeURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, removeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create remove request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("remove failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("🗑️  Removed: %s/%s", bucket, path)
	return nil
}
