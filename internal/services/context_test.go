package services_test

import (
	"context"
	"testing"

	"github.com/dongyingyibadao/data-dealer-auto/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-1")
	ctx = services.WithStage(ctx, "assemble")
	ctx = services.WithBatch(ctx, 3)
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-1" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "assemble" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if batch, ok := services.BatchFromContext(ctx); !ok || batch != 3 {
		t.Fatalf("unexpected batch: %v %v", batch, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestStageBlankPreservesContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.BatchFromContext(ctx); ok {
		t.Fatal("expected no batch value")
	}
}
