package generator

import (
	"context"
	"errors"
	"testing"

	"brand_hero_content/store"
)

func newTestAgent(t *testing.T, inv Invoker) *Agent {
	t.Helper()
	agent, err := NewAgent(inv)
	if err != nil {
		t.Fatalf("NewAgent: %v", err)
	}
	return agent
}

func seedCompany(t *testing.T, docs *store.Memory, companyID, companyContext, brandHero string) {
	t.Helper()
	ctx := testContext()
	if companyContext != "" {
		if err := docs.UpsertDocument(ctx, store.CollectionCompanyContext, companyID, map[string]any{"context_description": companyContext}); err != nil {
			t.Fatalf("seed company context: %v", err)
		}
	}
	if brandHero != "" {
		if err := docs.UpsertDocument(ctx, store.CollectionBrandHeroContext, companyID, map[string]any{"context_description": brandHero}); err != nil {
			t.Fatalf("seed brand hero: %v", err)
		}
	}
}

func testContext() context.Context {
	return context.Background()
}

// failingDocs fails every write.
type failingDocs struct {
	*store.Memory
}

func (failingDocs) UpsertDocument(context.Context, string, string, map[string]any) error {
	return errWriteRefused
}

var errWriteRefused = errors.New("write refused")
