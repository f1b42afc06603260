package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/supabase-community/supabase-go"

	"coupleshot-server/modules/common/config"
	"coupleshot-server/modules/common/model"
)

// ErrNotFound - 조회 결과 없음
var ErrNotFound = errors.New("record not found")

type Client struct {
	supabase *supabase.Client
}

// NewClient - Database 클라이언트 생성
func NewClient() *Client {
	cfg := config.GetConfig()

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ Failed to create Supabase client: %v", err)
		return nil
	}

	return &Client{
		supabase: supabaseClient,
	}
}

// GetUser - users 테이블에서 사용자 조회
func (c *Client) GetUser(ctx context.Context, userID string) (*model.User, error) {
	var users []model.User

	data, _, err := c.supabase.From("users").
		Select("id, credit_balance, train_count", "", false).
		Eq("id", userID).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to parse user data: %w", err)
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}

	return &users[0], nil
}

// UpdateUser - users 테이블 필드 업데이트
func (c *Client) UpdateUser(ctx context.Context, userID string, fields map[string]interface{}) error {
	_, _, err := c.supabase.From("users").
		Update(fields, "", "").
		Eq("id", userID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", userID, err)
	}
	return nil
}

// GetRequest - generate_requests 테이블에서 요청 조회
func (c *Client) GetRequest(ctx context.Context, uuid string) (*model.GenerateRequest, error) {
	var requests []model.GenerateRequest

	data, _, err := c.supabase.From("generate_requests").
		Select("*", "", false).
		Eq("uuid", uuid).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query generate_requests: %w", err)
	}

	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("failed to parse request data: %w", err)
	}

	if len(requests) == 0 {
		return nil, fmt.Errorf("request %s: %w", uuid, ErrNotFound)
	}

	return &requests[0], nil
}

// UpsertRequest - uuid 기준으로 존재하면 업데이트, 없으면 삽입 (멱등)
func (c *Client) UpsertRequest(ctx context.Context, uuid string, fields map[string]interface{}) error {
	existing, err := c.GetRequest(ctx, uuid)
	if err != nil && !isNotFound(err) {
		return err
	}

	if existing == nil {
		insertData := map[string]interface{}{"uuid": uuid}
		for k, v := range fields {
			insertData[k] = v
		}

		_, _, err := c.supabase.From("generate_requests").
			Insert(insertData, false, "", "", "").
			Execute()
		if err != nil {
			return fmt.Errorf("failed to insert request %s: %w", uuid, err)
		}
		log.Printf("📝 New generate_request created: %s", uuid)
		return nil
	}

	log.Printf("📝 Existing generate_request updated: %s", uuid)
	return c.UpdateRequest(ctx, uuid, fields)
}

// UpdateRequest - generate_requests 필드 업데이트
func (c *Client) UpdateRequest(ctx context.Context, uuid string, fields map[string]interface{}) error {
	_, _, err := c.supabase.From("generate_requests").
		Update(fields, "", "").
		Eq("uuid", uuid).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to update request %s: %w", uuid, err)
	}
	return nil
}

// ListRequestsByStatus - 상태 기준 요청 목록 조회 (재시작 복구용)
func (c *Client) ListRequestsByStatus(ctx context.Context, status string) ([]model.GenerateRequest, error) {
	var requests []model.GenerateRequest

	data, _, err := c.supabase.From("generate_requests").
		Select("uuid, user_id, status, credits_deducted, image_url", "", false).
		Eq("status", status).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to list requests by status %s: %w", status, err)
	}

	if err := json.Unmarshal(data, &requests); err != nil {
		return nil, fmt.Errorf("failed to parse request list: %w", err)
	}

	return requests, nil
}

// InsertProduct - userproduct 레코드 생성
func (c *Client) InsertProduct(ctx context.Context, fields map[string]interface{}) error {
	_, _, err := c.supabase.From("userproduct").
		Insert(fields, false, "", "", "").
		Execute()

	if err != nil {
		return fmt.Errorf("failed to insert userproduct: %w", err)
	}
	return nil
}

// UpdateProduct - product_id 기준 userproduct 업데이트
func (c *Client) UpdateProduct(ctx context.Context, productID string, fields map[string]interface{}) error {
	_, _, err := c.supabase.From("userproduct").
		Update(fields, "", "").
		Eq("product_id", productID).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", productID, err)
	}
	return nil
}

// GetProductsByUser - 사용자의 모든 userproduct 조회
func (c *Client) GetProductsByUser(ctx context.Context, userID string) ([]model.UserProduct, error) {
	var products []model.UserProduct

	data, _, err := c.supabase.From("userproduct").
		Select("*", "", false).
		Eq("user_id", userID).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query userproduct: %w", err)
	}

	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse products: %w", err)
	}

	return products, nil
}

// CountProductsByUser - 사용자의 userproduct 개수 (첫 학습 무료 판정용)
func (c *Client) CountProductsByUser(ctx context.Context, userID string) (int, error) {
	products, err := c.GetProductsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(products), nil
}

// GetProductByID - product_id + user_id 기준 단건 조회
func (c *Client) GetProductByID(ctx context.Context, productID, userID string) (*model.UserProduct, error) {
	var products []model.UserProduct

	data, _, err := c.supabase.From("userproduct").
		Select("*", "", false).
		Eq("product_id", productID).
		Eq("user_id", userID).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query userproduct: %w", err)
	}

	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to parse product: %w", err)
	}

	if len(products) == 0 {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}

	return &products[0], nil
}

// InsertPrediction - predictions 레코드 생성
func (c *Client) InsertPrediction(ctx context.Context, fields map[string]interface{}) error {
	_, _, err := c.supabase.From("predictions").
		Insert(fields, false, "", "", "").
		Execute()

	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// ListPredictionsByUser - 사용자의 prediction 목록 조회
func (c *Client) ListPredictionsByUser(ctx context.Context, userID string) ([]model.Prediction, error) {
	var predictions []model.Prediction

	data, _, err := c.supabase.From("predictions").
		Select("*", "", false).
		Eq("user_id", userID).
		Execute()

	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}

	if err := json.Unmarshal(data, &predictions); err != nil {
		return nil, fmt.Errorf("failed to parse predictions: %w", err)
	}

	return predictions, nil
}

// DeleteStalePredictions - cutoff보다 오래된 prediction 레코드 삭제
func (c *Client) DeleteStalePredictions(ctx context.Context, cutoff time.Time) error {
	_, _, err := c.supabase.From("predictions").
		Delete("", "").
		Lt("created_at", cutoff.UTC().Format(time.RFC3339)).
		Execute()

	if err != nil {
		return fmt.Errorf("failed to delete stale predictions: %w", err)
	}
	return nil
}

// InsertPurchase - user_purchase 레코드 생성
func (c *Client) InsertPurchase(ctx context.Context, fields map[string]interface{}) error {
	_, _, err := c.supabase.From("user_purchase").
		Insert(fields, false, "", "", "").
		Execute()

	if err != nil {
		return fmt.Errorf("failed to insert user_purchase: %w", err)
	}
	return nil
}

// isNotFound - ErrNotFound 래핑 여부 확인
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
