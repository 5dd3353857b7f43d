package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"supportchat/server/model"
)

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver([]string{" admin-1 ", ""}, map[string]string{"u1": "Ann"})

	got, err := r.Resolve(context.Background(), "admin-1")
	if err != nil || got.Role != model.RoleAdmin {
		t.Fatalf("expected admin, got %#v (%v)", got, err)
	}
	got, err = r.Resolve(context.Background(), "u1")
	if err != nil || got.Role != model.RoleUser || got.DisplayName != "Ann" {
		t.Fatalf("expected named user, got %#v (%v)", got, err)
	}
	if _, err := r.Resolve(context.Background(), "   "); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
}

func TestRedisResolverResolve(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisResolver(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	if err := r.Put(ctx, Identity{ID: "u1", Role: model.RoleUser, DisplayName: "Ann"}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := r.Put(ctx, Identity{ID: "a1", Role: model.RoleAdmin}, time.Minute); err != nil {
		t.Fatalf("put admin: %v", err)
	}

	got, err := r.Resolve(ctx, "u1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != (Identity{ID: "u1", Role: model.RoleUser, DisplayName: "Ann"}) {
		t.Fatalf("unexpected identity %#v", got)
	}
	got, err = r.Resolve(ctx, "a1")
	if err != nil || got.Role != model.RoleAdmin {
		t.Fatalf("expected admin, got %#v (%v)", got, err)
	}
	if ttl := mr.TTL(redisKey("a1")); ttl != time.Minute {
		t.Fatalf("expected ttl to be set, got %v", ttl)
	}
}

func TestRedisResolverUnknownAndInvalid(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisResolver(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "ghost"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved for unknown id, got %v", err)
	}
	mr.HSet(redisKey("weird"), "role", "superuser")
	if _, err := r.Resolve(ctx, "weird"); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved for invalid role, got %v", err)
	}
	if err := r.Put(ctx, Identity{ID: "x", Role: "guest"}, 0); err == nil {
		t.Fatal("expected put to reject invalid role")
	}
}

func TestRedisResolverUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisResolver(mr.Addr(), "")
	t.Cleanup(func() { _ = r.Close() })
	mr.Close()

	_, err := r.Resolve(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected error when redis is down")
	}
	if errors.Is(err, ErrUnresolved) {
		t.Fatal("connectivity failures must not look like unknown identities")
	}
}
