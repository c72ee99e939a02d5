package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/dealmoa/internal/middleware"
	"github.com/hitoshi/dealmoa/internal/model"
)

// DeviceRegistrar はデバイストークンの登録に必要なインターフェース。
type DeviceRegistrar interface {
	Register(ctx context.Context, device *model.UserDevice) error
}

// DeviceHandler はプッシュ送信先デバイスのHTTPハンドラー。
type DeviceHandler struct {
	devices DeviceRegistrar
	now     func() time.Time
}

// NewDeviceHandler はDeviceHandlerを生成する。
func NewDeviceHandler(devices DeviceRegistrar) *DeviceHandler {
	return &DeviceHandler{devices: devices, now: time.Now}
}

type deviceRequest struct {
	DeviceToken string `json:"device_token" validate:"required,max=500"`
	Platform    string `json:"platform" validate:"required,oneof=ios android web"`
}

type deviceResponse struct {
	ID          string `json:"id"`
	DeviceToken string `json:"device_token"`
	Platform    string `json:"platform"`
	IsActive    bool   `json:"is_active"`
}

// RegisterDevice はデバイストークンを登録する。既存のトークンは呼び出しユーザーに付け替える。
// POST /api/devices
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req deviceRequest
	if err := decodeRequest(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	now := h.now()
	device := &model.UserDevice{
		ID:          uuid.New().String(),
		UserID:      userID,
		DeviceToken: req.DeviceToken,
		Platform:    req.Platform,
		IsActive:    true,
		LastUsedAt:  &now,
		CreatedAt:   now,
	}
	if err := h.devices.Register(r.Context(), device); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, deviceResponse{
		ID:          device.ID,
		DeviceToken: device.DeviceToken,
		Platform:    device.Platform,
		IsActive:    device.IsActive,
	})
}
