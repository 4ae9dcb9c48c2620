// Package client is the HTTP client for the order API. All state lives on
// the server; this package only moves JSON.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"pos-terminal/internal/models"
)

type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func New(baseURL, apiKey string, log *zap.Logger) *Client {
	httpc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		httpc.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Client{http: httpc, log: log}
}

// OrderByTable fetches the active order for a table, creating one server-side
// if none exists. Idempotent.
func (c *Client) OrderByTable(ctx context.Context, tableID int) (*models.Order, error) {
	var ord models.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&ord).
		Get("/tables/" + strconv.Itoa(tableID) + "/order")
	if err != nil {
		return nil, fmt.Errorf("get order by table %d: %w", tableID, err)
	}
	if resp.IsError() {
		return nil, apiError("get order by table", resp)
	}
	return &ord, nil
}

// OrderByID returns nil without error when the order does not exist.
func (c *Client) OrderByID(ctx context.Context, id string) (*models.Order, error) {
	var ord models.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&ord).
		Get("/orders/" + id)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, apiError("get order", resp)
	}
	return &ord, nil
}

// UpdateOrder is full replace-by-value persistence. The response is the
// server-recomputed order, including pricing and discounts.
func (c *Client) UpdateOrder(ctx context.Context, id string, req models.UpdateOrderRequest) (*models.Order, error) {
	var ord models.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&ord).
		Put("/orders/" + id)
	if err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}
	if resp.IsError() {
		return nil, apiError("update order", resp)
	}
	return &ord, nil
}

func (c *Client) SendToKitchen(ctx context.Context, id string, itemIDs []string) (*models.Order, error) {
	var ord models.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string][]string{"item_ids": itemIDs}).
		SetResult(&ord).
		Post("/orders/" + id + "/send")
	if err != nil {
		return nil, fmt.Errorf("send order %s to kitchen: %w", id, err)
	}
	if resp.IsError() {
		return nil, apiError("send to kitchen", resp)
	}
	return &ord, nil
}

func (c *Client) MarkServed(ctx context.Context, id string) (*models.Order, error) {
	var ord models.Order
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&ord).
		Post("/orders/" + id + "/serve")
	if err != nil {
		return nil, fmt.Errorf("mark order %s served: %w", id, err)
	}
	if resp.IsError() {
		return nil, apiError("mark served", resp)
	}
	return &ord, nil
}

func (c *Client) Finalize(ctx context.Context, id, paymentMethod, receiptURL string) error {
	body := map[string]string{"payment_method": paymentMethod}
	if receiptURL != "" {
		body["receipt_url"] = receiptURL
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/orders/" + id + "/finalize")
	if err != nil {
		return fmt.Errorf("finalize order %s: %w", id, err)
	}
	if resp.IsError() {
		return apiError("finalize", resp)
	}
	return nil
}

func (c *Client) CancelUnsentOrder(ctx context.Context, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/orders/" + id)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", id, err)
	}
	if resp.IsError() {
		return apiError("cancel order", resp)
	}
	return nil
}

func (c *Client) Products(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/products")
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("get products", resp)
	}
	return out, nil
}

func (c *Client) Categories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/categories")
	if err != nil {
		return nil, fmt.Errorf("get categories: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("get categories", resp)
	}
	return out, nil
}

func (c *Client) Ingredients(ctx context.Context) ([]models.Ingredient, error) {
	var out []models.Ingredient
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/ingredients")
	if err != nil {
		return nil, fmt.Errorf("get ingredients: %w", err)
	}
	if resp.IsError() {
		return nil, apiError("get ingredients", resp)
	}
	return out, nil
}

// UploadReceipt uploads a receipt image and returns its public URL. Callers
// treat failures as non-fatal: an order can be finalized without a receipt.
func (c *Client) UploadReceipt(ctx context.Context, filename string, data []byte, mime string) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetFormData(map[string]string{"content_type": mime}).
		Post("/uploads/receipts")
	if err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}
	if resp.IsError() {
		return "", apiError("upload receipt", resp)
	}
	var result struct {
		URL string `json:"url"`
	}
	if jsonErr := json.Unmarshal(resp.Body(), &result); jsonErr == nil && result.URL != "" {
		return result.URL, nil
	}
	// Some deployments return the URL as a bare JSON string.
	var raw string
	if jsonErr := json.Unmarshal(resp.Body(), &raw); jsonErr == nil && raw != "" {
		return raw, nil
	}
	return "", fmt.Errorf("upload receipt: empty url in response")
}

func apiError(op string, resp *resty.Response) error {
	body := resp.Body()
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Errorf("%s: server returned %d: %s", op, resp.StatusCode(), string(body))
}
