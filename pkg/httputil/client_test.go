package httputil

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestClientSingleton(t *testing.T) {
	c1 := Client(TierMedium)
	c2 := Client(TierMedium)
	if c1 != c2 {
		t.Error("Client() should return the same instance for the same tier")
	}
	if Client(TierFast) == Client(TierSlow) {
		t.Error("different tiers should return different clients")
	}
}

func TestClientTimeouts(t *testing.T) {
	tests := []struct {
		want    time.Duration
		getFunc func() *http.Client
	}{
		{5 * time.Second, FastClient},
		{30 * time.Second, MediumClient},
		{60 * time.Second, SlowClient},
	}

	for _, tt := range tests {
		if c := tt.getFunc(); c.Timeout != tt.want {
			t.Errorf("got timeout %v, want %v", c.Timeout, tt.want)
		}
	}
}

func TestReadResponseBody(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		maxSize int64
		wantLen int
	}{
		{"normal read", "hello world", 1024, 11},
		{"truncated read", strings.Repeat("x", 1000), 100, 100},
		{"default max size", "test", 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadResponseBody(strings.NewReader(tt.input), tt.maxSize)
			if err != nil {
				t.Fatalf("ReadResponseBody() error = %v", err)
			}
			if len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}
