package db

import (
	"context"
	"testing"
)

type fakeQuerier struct{ Querier }

func TestConnFromContext_Empty(t *testing.T) {
	if q := ConnFromContext(context.Background()); q != nil {
		t.Fatalf("expected nil querier, got %T", q)
	}
}

func TestWithQuerier_RoundTrip(t *testing.T) {
	fq := &fakeQuerier{}
	ctx := WithQuerier(context.Background(), fq)

	got := ConnFromContext(ctx)
	if got != Querier(fq) {
		t.Fatalf("expected stored querier, got %v", got)
	}
}
