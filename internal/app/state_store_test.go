package app

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStateStore()
	keep, drop := uuid.New(), uuid.New()

	if _, ok, _ := s.Get(ctx, keep); ok {
		t.Fatal("expected unknown id to be reported as never checked")
	}

	_ = s.Put(ctx, keep, ReconciliationState{LastCheckedAt: baseTime, RetryCount: 2})
	_ = s.Put(ctx, drop, ReconciliationState{LastCheckedAt: baseTime})

	got, ok, _ := s.Get(ctx, keep)
	if !ok || got.RetryCount != 2 || !got.LastCheckedAt.Equal(baseTime) {
		t.Fatalf("unexpected state %+v", got)
	}

	_ = s.Retain(ctx, map[uuid.UUID]struct{}{keep: {}})
	if s.Len() != 1 {
		t.Fatalf("expected one entry after retain, got %d", s.Len())
	}
	if _, ok, _ := s.Get(ctx, drop); ok {
		t.Fatal("expected dropped id to be pruned")
	}

	_ = s.Delete(ctx, keep)
	if s.Len() != 0 {
		t.Fatal("expected empty store after delete")
	}
}

func TestDecodeState(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	state, ok, err := decodeState(map[string]string{
		stateFieldLastChecked: strconv.FormatInt(at.UnixNano(), 10),
		stateFieldRetryCount:  "4",
	})
	if err != nil || !ok {
		t.Fatalf("unexpected decode result ok=%v err=%v", ok, err)
	}
	if !state.LastCheckedAt.Equal(at) || state.RetryCount != 4 {
		t.Fatalf("unexpected state %+v", state)
	}

	if _, _, err := decodeState(map[string]string{stateFieldLastChecked: "x", stateFieldRetryCount: "1"}); err == nil {
		t.Fatal("expected error for corrupt timestamp")
	}
}

func TestNewRedisStateStoreNormalizesPrefix(t *testing.T) {
	s := NewRedisStateStore(nil, " crypto:state: ", 0)
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	if got := s.key(id); got != "crypto:state:00000000-0000-0000-0000-000000000001" {
		t.Fatalf("unexpected key %q", got)
	}
	if s.ttl <= 0 {
		t.Fatal("expected default ttl")
	}
}
