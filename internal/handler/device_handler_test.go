package handler

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeviceHandler_RegisterDevice(t *testing.T) {
	devices := &mockDeviceRegistrar{}
	req := httptest.NewRequest(http.MethodPost, "/api/devices", bytes.NewBufferString(`{"device_token":"tok-1","platform":"android"}`))
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()
	NewDeviceHandler(devices).RegisterDevice(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if len(devices.registered) != 1 {
		t.Fatalf("registered = %d, want 1", len(devices.registered))
	}
	d := devices.registered[0]
	if d.UserID != "user-1" || d.DeviceToken != "tok-1" || !d.IsActive || d.LastUsedAt == nil {
		t.Errorf("device = %+v", d)
	}
}

func TestDeviceHandler_RegisterDevice_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing token", `{"platform":"ios"}`},
		{"unknown platform", `{"device_token":"tok","platform":"symbian"}`},
		{"unknown field", `{"device_token":"tok","platform":"ios","extra":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			devices := &mockDeviceRegistrar{}
			req := withUserID(httptest.NewRequest(http.MethodPost, "/api/devices", bytes.NewBufferString(tt.body)), "user-1")
			w := httptest.NewRecorder()
			NewDeviceHandler(devices).RegisterDevice(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(devices.registered) != 0 {
				t.Error("invalid request must not be stored")
			}
		})
	}
}

func TestDeviceHandler_RegisterDevice_StoreFailure(t *testing.T) {
	devices := &mockDeviceRegistrar{err: errors.New("connection refused")}
	req := withUserID(httptest.NewRequest(http.MethodPost, "/api/devices", bytes.NewBufferString(`{"device_token":"tok","platform":"ios"}`)), "user-1")
	w := httptest.NewRecorder()
	NewDeviceHandler(devices).RegisterDevice(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
