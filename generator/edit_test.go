package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"brand_hero_content/store"
)

func samplePost() Artifact {
	return Artifact{
		Content:          "Fresh pizza tonight",
		Hashtags:         []string{"pizza"},
		CallToAction:     "Order now",
		SceneDescription: "A pizza on a wooden table",
		ImageURL:         "https://img.example/old.png",
	}
}

func newTestEditor(t *testing.T, inv *MockInvoker, docs DocumentStore, images *MockImages) *Editor {
	t.Helper()
	e, err := NewEditor(newTestAgent(t, inv), docs, images, NewConversationStore(docs), 0)
	if err != nil {
		t.Fatalf("NewEditor: %v", err)
	}
	return e
}

func TestEditAwaitsClarification(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	inv := &MockInvoker{Script: []MockTurn{{Output: "Which part should change?", Handle: "H1"}}}
	e := newTestEditor(t, inv, docs, &MockImages{URL: "u"})

	res, err := e.Run(context.Background(), EditRequest{Artifact: samplePost(), CompanyID: "acme"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != EditAwaitingClarification || res.ConversationID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Artifact.Content != samplePost().Content || res.Artifact.PostID != "" {
		t.Fatalf("artifact should be returned unchanged: %+v", res.Artifact)
	}
	if docs.Count(store.CollectionPosts) != 0 {
		t.Fatalf("nothing should be saved")
	}
	state, _, _ := e.conversations.Load(context.Background(), "edit:"+res.ConversationID)
	if state.PreviousTurnHandle != "H1" {
		t.Fatalf("handle not stored: %+v", state)
	}
}

func TestEditCompleteRecordIsSaved(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	final := `{"content":"Fresh pizza, now vegan","hashtags":["#vegan","pizza"],"call_to_action":"Order now","scene_description":"A pizza on a wooden table","image_url":"https://img.example/old.png"}`
	inv := &MockInvoker{Script: []MockTurn{{
		Output:    final,
		Handle:    "H2",
		ToolCalls: []MockToolCall{{Name: "update_content", Arguments: `{"content":"Fresh pizza, now vegan"}`}},
	}}}
	e := newTestEditor(t, inv, docs, &MockImages{URL: "u"})

	res, err := e.Run(context.Background(), EditRequest{Artifact: samplePost(), CompanyID: "acme", ConversationID: "c1", UserResponse: "make it vegan"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != EditSaved || res.Artifact.PostID == "" {
		t.Fatalf("expected saved post, got %+v", res)
	}
	if res.Artifact.Hashtags[0] != "vegan" {
		t.Fatalf("hashtags not normalized: %v", res.Artifact.Hashtags)
	}
	doc, ok, _ := docs.GetDocument(context.Background(), store.CollectionPosts, res.Artifact.PostID)
	if !ok || doc["content"] != "Fresh pizza, now vegan" || doc["company_id"] != "acme" {
		t.Fatalf("unexpected stored post: %+v", doc)
	}
	if len(res.ToolsCalled) != 1 || res.ToolsCalled[0] != "update_content" {
		t.Fatalf("unexpected tools called: %v", res.ToolsCalled)
	}
}

func TestEditSaveIsIdempotent(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	post := samplePost()
	post.PostID = "post-1"
	inv := &MockInvoker{Script: []MockTurn{
		{Output: "Saved.", ToolCalls: []MockToolCall{{Name: "save"}}},
		{Output: "Saved again.", ToolCalls: []MockToolCall{{Name: "save"}}},
	}}
	e := newTestEditor(t, inv, docs, &MockImages{URL: "u"})

	for i := 0; i < 2; i++ {
		res, err := e.Run(context.Background(), EditRequest{Artifact: post, CompanyID: "acme", ConversationID: "c1"})
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		if res.State != EditSaved {
			t.Fatalf("run %d: expected SAVED after save tool, got %s", i, res.State)
		}
	}
	if n := docs.Count(store.CollectionPosts); n != 1 {
		t.Fatalf("expected one stored post, got %d", n)
	}
	doc, ok, _ := docs.GetDocument(context.Background(), store.CollectionPosts, "post-1")
	if !ok || doc["content"] != post.Content {
		t.Fatalf("unexpected stored post: %+v", doc)
	}
}

func TestEditUpdateImageRejectsReusedScene(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	images := &MockImages{URL: "https://img.example/new.png"}
	inv := &MockInvoker{Script: []MockTurn{{
		Output: "Done",
		ToolCalls: []MockToolCall{
			{Name: "update_image", Arguments: `{"scene_description":"  a PIZZA on a   wooden table "}`},
			{Name: "update_image", Arguments: `{"scene_description":"A pizza on a beach at sunset"}`},
		},
	}}}
	e := newTestEditor(t, inv, docs, images)

	res, err := e.Run(context.Background(), EditRequest{Artifact: samplePost(), CompanyID: "acme"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	results := inv.ToolResults()
	if !strings.Contains(results[0], "newly composed") {
		t.Fatalf("reused scene should be rejected, got %s", results[0])
	}
	if len(images.Prompts()) != 1 || images.Prompts()[0] != "A pizza on a beach at sunset" {
		t.Fatalf("only the new scene should reach the generator: %v", images.Prompts())
	}
	if res.Artifact.ImageURL != "https://img.example/new.png" || res.Artifact.SceneDescription != "A pizza on a beach at sunset" {
		t.Fatalf("working copy not updated: %+v", res.Artifact)
	}
	if res.State != EditAwaitingClarification {
		t.Fatalf("unexpected state %s", res.State)
	}
}

func TestEditFinishOverrideSaves(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	inv := &MockInvoker{Script: []MockTurn{{
		Output:    "All done!",
		ToolCalls: []MockToolCall{{Name: "update_cta", Arguments: `{"call_to_action":"Visit us"}`}},
	}}}
	e := newTestEditor(t, inv, docs, &MockImages{URL: "u"})

	res, err := e.Run(context.Background(), EditRequest{Artifact: samplePost(), CompanyID: "acme", Finish: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != EditSaved || res.Artifact.CallToAction != "Visit us" {
		t.Fatalf("expected saved working copy, got %+v", res)
	}
	if !strings.Contains(inv.Calls()[0].Instructions, "asked to finish") {
		t.Fatalf("finish flag not passed to the turn")
	}
}

func TestEditSaveFailureIsApplied(t *testing.T) {
	t.Parallel()

	docs := failingDocs{store.NewMemory()}
	final := `{"content":"x","hashtags":[],"call_to_action":"y","scene_description":"z","image_url":""}`
	inv := &MockInvoker{Script: []MockTurn{{Output: final}}}
	e := newTestEditor(t, inv, docs, &MockImages{URL: "u"})

	res, err := e.Run(context.Background(), EditRequest{Artifact: samplePost(), CompanyID: "acme"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if res.State != EditApplied || res.Artifact.Content != "x" {
		t.Fatalf("expected applied artifact, got %+v", res)
	}
}

func TestEditRequiresCompany(t *testing.T) {
	t.Parallel()

	inv := &MockInvoker{}
	e := newTestEditor(t, inv, store.NewMemory(), &MockImages{URL: "u"})
	if _, err := e.Run(context.Background(), EditRequest{Artifact: samplePost()}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(inv.Calls()) != 0 {
		t.Fatalf("no turn expected")
	}
}

func TestLoadPost(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	post := samplePost()
	if err := docs.UpsertDocument(context.Background(), store.CollectionPosts, "p1", post.Fields()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	e := newTestEditor(t, &MockInvoker{}, docs, &MockImages{URL: "u"})

	got, err := e.LoadPost(context.Background(), "p1")
	if err != nil || got.PostID != "p1" || got.Content != post.Content {
		t.Fatalf("LoadPost: %+v %v", got, err)
	}
	if _, err := e.LoadPost(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEditContinuesStoredConversation(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	ctx := context.Background()
	if err := NewConversationStore(docs).Save(ctx, ConversationState{Key: "edit:c1", PreviousTurnHandle: "H1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	inv := &MockInvoker{Script: []MockTurn{
		{Output: "Shall I also change the hashtags?", Handle: "H2"},
		{Output: "Anything else?"},
	}}
	e := newTestEditor(t, inv, docs, &MockImages{URL: "u"})

	res, err := e.Run(ctx, EditRequest{Artifact: samplePost(), CompanyID: "acme", ConversationID: "c1", UserResponse: "yes"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ConversationID != "c1" || res.State != EditAwaitingClarification {
		t.Fatalf("unexpected result: %+v", res)
	}
	calls := inv.Calls()
	if len(calls) != 1 || calls[0].PreviousHandle != "H1" {
		t.Fatalf("expected the turn to resume H1, got %+v", calls)
	}
	state, ok, err := e.conversations.Load(ctx, "edit:c1")
	if err != nil || !ok || state.PreviousTurnHandle != "H2" {
		t.Fatalf("expected stored H2, got %+v ok=%v err=%v", state, ok, err)
	}

	if _, err := e.Run(ctx, EditRequest{Artifact: samplePost(), CompanyID: "acme", ConversationID: "c1", UserResponse: "no"}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if calls := inv.Calls(); len(calls) != 2 || calls[1].PreviousHandle != "H2" {
		t.Fatalf("expected the second turn to resume H2, got %+v", calls)
	}
	state, _, _ = e.conversations.Load(ctx, "edit:c1")
	if state.PreviousTurnHandle != "H2" {
		t.Fatalf("handle-less turn replaced H2 with %q", state.PreviousTurnHandle)
	}
}

func TestEditSaveArchivesImage(t *testing.T) {
	t.Parallel()

	docs := store.NewMemory()
	archive := &countingArchive{}
	inv := &MockInvoker{Script: []MockTurn{{Output: "Saved.", ToolCalls: []MockToolCall{{Name: "save"}}}}}
	e, err := NewEditor(newTestAgent(t, inv), docs, &MockImages{URL: "u"}, NewConversationStore(docs), 0, WithEditorArchive(archive))
	if err != nil {
		t.Fatalf("NewEditor: %v", err)
	}

	res, err := e.Run(context.Background(), EditRequest{Artifact: samplePost(), CompanyID: "acme", ConversationID: "c1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "/api/images/@" + samplePost().ImageURL
	if res.State != EditSaved || res.Artifact.ImageURL != want {
		t.Fatalf("expected saved post with archived image, got %+v", res)
	}
	doc, ok, _ := docs.GetDocument(context.Background(), store.CollectionPosts, res.Artifact.PostID)
	if !ok || doc["image_url"] != want {
		t.Fatalf("unexpected stored post: %+v", doc)
	}
	if archive.Calls() != 1 || archive.calls[0]["post_id"] != res.Artifact.PostID {
		t.Fatalf("unexpected archive calls: %+v", archive.calls)
	}
}
