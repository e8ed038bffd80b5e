package session

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/scamtrap-ai/scamtrap/pkg/cryptobox"
	"github.com/scamtrap-ai/scamtrap/pkg/evidence"
)

func newTestRedis(t *testing.T) (*RedisPersister, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisPersisterFromClient(client), mr
}

func TestRedisSaveLoadRoundTrip(t *testing.T) {
	p, _ := newTestRedis(t)
	ctx := context.Background()

	st := NewStore(WithCodec(cryptobox.New("0123456789abcdef0123456789abcdef")))
	rec := st.seal(sampleSession())

	if err := p.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := p.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil {
		t.Fatal("Load returned nil for a saved record")
	}
	if got.State != StateHoneypot || got.SessionID != "s-1" {
		t.Errorf("loaded record mismatch: %+v", got)
	}
	if len(got.Transcript) != 2 {
		t.Errorf("transcript length = %d, want 2", len(got.Transcript))
	}
}

func TestRedisLoadMissing(t *testing.T) {
	p, _ := newTestRedis(t)

	got, err := p.Load(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("unknown id must load as (nil, nil), got %+v", got)
	}
}

func TestRedisStoredValueIsSealed(t *testing.T) {
	p, mr := newTestRedis(t)
	ctx := context.Background()

	st := NewStore(WithCodec(cryptobox.New("0123456789abcdef0123456789abcdef")))
	if err := p.Save(ctx, st.seal(sampleSession())); err != nil {
		t.Fatal(err)
	}

	raw, err := mr.Get(redisKeyPrefix + "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(raw, "123456789012") {
		t.Error("bank account stored in plaintext")
	}
	if strings.Contains(raw, "your account is blocked") {
		t.Error("transcript stored in plaintext")
	}
	if !strings.Contains(raw, cryptobox.EnvelopeMarker) {
		t.Error("no envelopes in stored record")
	}
}

func TestStoreResumesFromRedis(t *testing.T) {
	p, _ := newTestRedis(t)
	ctx := context.Background()
	key := "0123456789abcdef0123456789abcdef"

	first := NewStore(WithCodec(cryptobox.New(key)), WithPersister(p))
	_, activated, err := first.RecordTurn(ctx, "resumed", Turn{
		IncomingText: "your account 123456789012 is blocked",
		Evidence:     evidence.Default().Extract("your account 123456789012 is blocked"),
		Score:        0.9,
		Decision:     DecisionActivate,
		Reason:       "coercion",
		Reply:        "what?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !activated {
		t.Fatal("expected activation")
	}

	// A fresh store (process restart) sees the latched state and the
	// decrypted evidence.
	second := NewStore(WithCodec(cryptobox.New(key)), WithPersister(p))
	s, err := second.GetOrCreate(ctx, "resumed")
	if err != nil {
		t.Fatal(err)
	}
	if s.State != StateHoneypot {
		t.Errorf("resumed state = %s, want honeypot", s.State)
	}
	raws := s.Evidence.Raws(evidence.TypeBankAccount)
	if len(raws) != 1 || raws[0] != "123456789012" {
		t.Errorf("resumed evidence = %v", raws)
	}
	if len(s.Transcript) != 2 || s.Transcript[0].Text != "your account 123456789012 is blocked" {
		t.Errorf("resumed transcript = %+v", s.Transcript)
	}
}
