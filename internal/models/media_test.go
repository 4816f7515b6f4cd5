package models

import "testing"

func TestIdentificationKeyCaseInsensitive(t *testing.T) {
	a := Identification{Brand: "Hot Wheels", Model: "Twin Mill", Year: 2019}
	b := Identification{Brand: "hot wheels", Model: "TWIN MILL", Year: 2019}

	if a.Key() != b.Key() {
		t.Errorf("keys should match regardless of case: %q vs %q", a.Key(), b.Key())
	}

	c := Identification{Brand: "Hot Wheels", Model: "Twin Mill", Year: 2020}
	if a.Key() == c.Key() {
		t.Error("different years must yield different keys")
	}
}

func TestMediaStatusTerminal(t *testing.T) {
	tests := []struct {
		status   MediaStatus
		terminal bool
	}{
		{StatusPending, false},
		{StatusAnalyzing, false},
		{StatusSuccess, true},
		{StatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestNewQueuedMediaDefaults(t *testing.T) {
	media := NewQueuedMedia(2, "a.jpg", "image/jpeg", []byte("data"), false)

	if media.Status != StatusPending {
		t.Errorf("expected pending, got %s", media.Status)
	}
	if media.ID == "" {
		t.Error("expected non-empty id")
	}
	if media.IsVideo {
		t.Error("expected IsVideo false")
	}
}
