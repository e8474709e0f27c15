package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/order-sync/models"
)

func TestOrderAPI_FetchAll(t *testing.T) {
	tests := []struct {
		name           string
		mockResponse   string
		mockStatusCode int
		wantIDs        []string
		wantErr        bool
		wantServerErr  bool
	}{
		{
			name:           "bare array",
			mockResponse:   `[{"id":"A","createdAt":1},{"id":"B","createdAt":2}]`,
			mockStatusCode: http.StatusOK,
			wantIDs:        []string{"A", "B"},
		},
		{
			name:           "data envelope with one bad element",
			mockResponse:   `{"status":true,"message":"List of orders","data":[{"id":"A"},{"status":"PENDING"}]}`,
			mockStatusCode: http.StatusOK,
			wantIDs:        []string{"A"},
		},
		{
			name:           "server error",
			mockResponse:   `{"error":"database down"}`,
			mockStatusCode: http.StatusBadGateway,
			wantErr:        true,
			wantServerErr:  true,
		},
		{
			name:           "unauthorized",
			mockResponse:   `{"error":"token expired"}`,
			mockStatusCode: http.StatusUnauthorized,
			wantErr:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/orders", r.URL.Path)
				assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
				w.WriteHeader(tt.mockStatusCode)
				w.Write([]byte(tt.mockResponse))
			}))
			defer server.Close()

			api := NewOrderAPI(server.URL+"/api/", "secret", time.Second)
			orders, err := api.FetchAll(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantServerErr, IsServerError(err))
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.mockStatusCode, apiErr.StatusCode)
				assert.Contains(t, apiErr.Body, "error")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(orders))
		})
	}
}

func TestOrderAPI_Commands(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		gotBody = nil
		if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
			json.Unmarshal(raw, &gotBody)
		}
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"status":true,"data":{"id":"srv-1","status":"PENDING","createdAt":10}}`))
		default:
			w.Write([]byte(`{"id":"A","status":"CONFIRMED","updatedAt":20}`))
		}
	}))
	defer server.Close()

	api := NewOrderAPI(server.URL, "", time.Second)
	ctx := context.Background()

	created, err := api.Create(ctx, models.OrderRecord{ID: "tmp", CustomerName: "Lan", Status: models.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", created.ID)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/orders", gotPath)
	assert.Equal(t, "Lan", gotBody["customerName"])
	assert.Equal(t, "PENDING", gotBody["status"])

	patched, err := api.Patch(ctx, "A", map[string]interface{}{"status": "CONFIRMED"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, patched.Status)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, "/orders/A", gotPath)
	assert.Equal(t, "CONFIRMED", gotBody["status"])

	one, err := api.FetchByID(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", one.ID)
	assert.Equal(t, http.MethodGet, gotMethod)

	require.NoError(t, api.Delete(ctx, "A"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/orders/A", gotPath)
}

func TestOrderAPI_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewOrderAPI(url, "", time.Second).FetchAll(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.False(t, IsServerError(err))
}
