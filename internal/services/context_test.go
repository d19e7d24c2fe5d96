package services_test

import (
	"context"
	"testing"

	"postforge/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "goal")
	ctx = services.WithKey(ctx, "goal/instagram/acme/goal_1.json")
	ctx = services.WithAccount(ctx, "instagram", "acme")
	ctx = services.WithRequestID(ctx, "req-1")

	if stage, ok := services.StageFromContext(ctx); !ok || stage != "goal" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if key, ok := services.KeyFromContext(ctx); !ok || key != "goal/instagram/acme/goal_1.json" {
		t.Fatalf("key = %q, %v", key, ok)
	}
	if platform, identity := services.AccountFromContext(ctx); platform != "instagram" || identity != "acme" {
		t.Fatalf("account = %q/%q", platform, identity)
	}
	if id, ok := services.RequestIDFromContext(ctx); !ok || id != "req-1" {
		t.Fatalf("request id = %q, %v", id, ok)
	}
}

func TestContextHelpersIgnoreEmptyValues(t *testing.T) {
	ctx := services.WithStage(context.Background(), "")
	ctx = services.WithKey(ctx, "")
	ctx = services.WithRequestID(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("empty stage should not be stored")
	}
	if _, ok := services.KeyFromContext(ctx); ok {
		t.Fatal("empty key should not be stored")
	}
	if _, ok := services.RequestIDFromContext(ctx); ok {
		t.Fatal("empty request id should not be stored")
	}
}
