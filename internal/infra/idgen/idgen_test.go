package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewID_IsUUID(t *testing.T) {
	id := New().NewID()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected a UUID, got %q: %v", id, err)
	}
}

func TestNewID_Unique(t *testing.T) {
	gen := New()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id := gen.NewID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id after %d draws: %s", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestFallbackID_Format(t *testing.T) {
	id := fallbackID(time.UnixMilli(1700000000000))
	if !strings.HasPrefix(id, "id-") {
		t.Errorf("expected id- prefix, got %q", id)
	}
	if parts := strings.Split(id, "-"); len(parts) != 3 {
		t.Errorf("expected 3 dash-separated parts, got %q", id)
	}
}
