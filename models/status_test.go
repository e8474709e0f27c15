package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseOrderStatus(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    OrderStatus
		wantErr bool
	}{
		{name: "backend enum", raw: "DELIVERING", want: StatusDelivering},
		{name: "transport lowercase", raw: "delivering", want: StatusDelivering},
		{name: "canonical", raw: "In Progress", want: StatusInProgress},
		{name: "preparing alias", raw: "PREPARING", want: StatusInProgress},
		{name: "padded", raw: "  ready ", want: StatusReady},
		{name: "american spelling", raw: "canceled", want: StatusCancelled},
		{name: "vietnamese", raw: "Đã Hủy", want: StatusCancelled},
		{name: "vietnamese preparing", raw: "đang chuẩn bị", want: StatusInProgress},
		{name: "unknown", raw: "teleported", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOrderStatus(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrderStatus_WireValueRoundTrip(t *testing.T) {
	for _, status := range OrderStatuses {
		parsed, err := ParseOrderStatus(status.WireValue())
		assert.NoError(t, err)
		assert.Equal(t, status, parsed, "wire value %s", status.WireValue())
	}
	assert.Equal(t, "PREPARING", StatusInProgress.WireValue())
}

func TestOrderStatus_Rank(t *testing.T) {
	assert.Equal(t, 0, StatusPending.Rank())
	assert.Less(t, StatusConfirmed.Rank(), StatusDelivered.Rank())
	assert.Equal(t, -1, OrderStatus("Lost").Rank())
	assert.False(t, OrderStatus("Lost").Valid())
	assert.True(t, StatusReady.Valid())
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
}
