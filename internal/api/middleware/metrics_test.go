package middleware

import "testing"

// TestNormalizePath проверяет нормализацию путей для лейблов метрик.
func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/health/live", "/health/live"},
		{"/health/ready", "/health/ready"},
		{"/metrics", "/metrics"},
		{"/api/v1/files", "/api/v1/files"},
		{"/api/v1/files/bulk", "/api/v1/files/bulk"},
		{"/api/v1/files/a1b2c3d4-e5f6-7a8b-9c0d-112233445566", "/api/v1/files/{id}"},
		{"/api/v1/files/a1b2c3d4-e5f6-7a8b-9c0d-112233445566/download", "/api/v1/files/{id}/download"},
		{"/unknown/path", "/unknown/path"},
	}

	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q): ожидалось %q, получено %q", tt.in, tt.want, got)
		}
	}
}
