package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yeremiapane/order-sync/models"
	"github.com/yeremiapane/order-sync/utils"
)

// maxErrorBody caps how much of a failed response is kept in APIError.
const maxErrorBody = 512

// OrderAPI is a thin client for the backend's order REST endpoints.
type OrderAPI struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewOrderAPI(baseURL, token string, timeout time.Duration) *OrderAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OrderAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchAll loads every order. Elements that cannot be decoded are logged
// and skipped.
func (api *OrderAPI) FetchAll(ctx context.Context) ([]models.OrderRecord, error) {
	body, err := api.do(ctx, http.MethodGet, "/orders", nil, "fetch orders")
	if err != nil {
		return nil, err
	}
	records, itemErrs, err := DecodeOrderList(body)
	if err != nil {
		return nil, err
	}
	for _, itemErr := range itemErrs {
		utils.InfoLogger.WithField("component", "order-api").Warnf("Skipping order in list: %v", itemErr)
	}
	return records, nil
}

func (api *OrderAPI) FetchByID(ctx context.Context, id string) (models.OrderRecord, error) {
	body, err := api.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(id), nil, "fetch order")
	if err != nil {
		return models.OrderRecord{}, err
	}
	return DecodeOrder(unwrapData(body))
}

// Create posts a new order and returns the server's record.
func (api *OrderAPI) Create(ctx context.Context, order models.OrderRecord) (models.OrderRecord, error) {
	payload, err := EncodeOrder(order)
	if err != nil {
		return models.OrderRecord{}, err
	}
	body, err := api.do(ctx, http.MethodPost, "/orders", payload, "create order")
	if err != nil {
		return models.OrderRecord{}, err
	}
	return DecodeOrder(unwrapData(body))
}

// Patch sends a partial update, e.g. {"status":"CONFIRMED"}.
func (api *OrderAPI) Patch(ctx context.Context, id string, fields map[string]interface{}) (models.OrderRecord, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return models.OrderRecord{}, err
	}
	body, err := api.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id), payload, "update order")
	if err != nil {
		return models.OrderRecord{}, err
	}
	return DecodeOrder(unwrapData(body))
}

func (api *OrderAPI) Delete(ctx context.Context, id string) error {
	_, err := api.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(id), nil, "delete order")
	return err
}

func (api *OrderAPI) do(ctx context.Context, method, path string, payload []byte, op string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, api.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if api.token != "" {
		req.Header.Set("Authorization", "Bearer "+api.token)
	}

	resp, err := api.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Op: op, Body: text}
	}
	return body, nil
}

// unwrapData strips a {"data":{...}} response envelope.
func unwrapData(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && env.Data[0] == '{' {
		return env.Data
	}
	return body
}
