package generator

import (
	"reflect"
	"testing"
)

func TestArtifactsRoundTrip(t *testing.T) {
	t.Parallel()

	got := NewExtractor(nil).Artifacts(StageContent, `[{"content":"A","hashtags":["x"],"call_to_action":"Go"}]`)
	if len(got) != 1 {
		t.Fatalf("expected one artifact, got %d", len(got))
	}
	if got[0].Content != "A" || got[0].CallToAction != "Go" || !reflect.DeepEqual(got[0].Hashtags, []string{"x"}) {
		t.Fatalf("unexpected artifact: %+v", got[0])
	}
}

func TestArtifactsStubOnGarbage(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(nil)
	for _, raw := range []any{"", "not json {{", nil, "[1, 2", `{"content": 3}`} {
		got := ex.Artifacts(StageContent, raw)
		if len(got) != 1 || !reflect.DeepEqual(got[0], StubArtifact()) {
			t.Fatalf("input %q: expected stub, got %+v", raw, got)
		}
	}
}

func TestArtifactsRecoveryLadder(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"fenced":         "Here you go:\n```json\n[{\"content\":\"A\",\"hashtags\":[\"x\"],\"call_to_action\":\"Go\"}]\n```\nEnjoy!",
		"literal":        `[{'content': 'A', 'hashtags': ['x'], 'call_to_action': 'Go', 'pinned': False,}]`,
		"bare keys":      `[{content: "A", hashtags: ["x"], call_to_action: "Go"}]`,
		"wrapped object": `{"posts": [{"content":"A","hashtags":["x"],"call_to_action":"Go"}]}`,
		"control chars":  "[{\"content\":\"A\x01\",\"hashtags\":[\"x\"],\"call_to_action\":\"Go\"}]",
	}
	ex := NewExtractor(nil)
	for name, raw := range cases {
		got := ex.Artifacts(StageContent, raw)
		if len(got) != 1 || got[0].Content != "A" || got[0].CallToAction != "Go" || !reflect.DeepEqual(got[0].Hashtags, []string{"x"}) {
			t.Fatalf("%s: unexpected result %+v", name, got)
		}
	}
}

func TestArtifactsIgnoreTrailingBracketedProse(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(nil)
	got := ex.Artifacts(StageContent, `[{"content":"A","hashtags":["x"],"call_to_action":"Go"},{"content":"B","hashtags":[],"call_to_action":"Buy"}] (see [1])`)
	if len(got) != 2 || got[0].Content != "A" || got[1].Content != "B" || got[1].CallToAction != "Buy" {
		t.Fatalf("unexpected artifacts: %+v", got)
	}

	got = ex.Artifacts(StageContent, `Here: {"a":1} and the posts [{"content":"A","note":"a ] inside"}] (note [1])`)
	if len(got) != 1 || got[0].Content != "A" {
		t.Fatalf("unexpected artifacts: %+v", got)
	}
}

func TestBalancedSpans(t *testing.T) {
	t.Parallel()

	text := `x {"k":"}"} y [1,[2]] z [3 } {"open":`
	got := balancedSpans(text, ShapeArray)
	want := []string{`[1,[2]]`, `{"k":"}"}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("array shape: got %q, want %q", got, want)
	}
	got = balancedSpans(text, ShapeObject)
	want = []string{`{"k":"}"}`, `[1,[2]]`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("object shape: got %q, want %q", got, want)
	}
}

func TestArtifactsNativeDropsMalformedElements(t *testing.T) {
	t.Parallel()

	raw := []any{
		map[string]any{"content": "first", "hashtags": []string{"#a", " ", "b"}},
		map[string]any{"hashtags": []string{"orphan"}},
		"not an object",
		map[string]any{"content": "second", "hashtags": "#c, d e"},
	}
	got := NewExtractor(nil).Artifacts(StageContent, raw)
	if len(got) != 2 {
		t.Fatalf("expected two surviving artifacts, got %+v", got)
	}
	if got[0].Content != "first" || !reflect.DeepEqual(got[0].Hashtags, []string{"a", "b"}) {
		t.Fatalf("unexpected first artifact: %+v", got[0])
	}
	if !reflect.DeepEqual(got[1].Hashtags, []string{"c", "d", "e"}) {
		t.Fatalf("unexpected second hashtags: %#v", got[1].Hashtags)
	}
}

func TestArtifactsEmptyArray(t *testing.T) {
	t.Parallel()

	got := NewExtractor(nil).Artifacts(StageContent, "[]")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty, non-nil slice, got %#v", got)
	}
}

func TestArtifactsCapsHashtags(t *testing.T) {
	t.Parallel()

	got := NewExtractor(nil).Artifacts(StageContent, `[{"content":"A","hashtags":["1","2","3","4","5","6","7"]}]`)
	if len(got[0].Hashtags) != MaxHashtags {
		t.Fatalf("expected %d hashtags, got %v", MaxHashtags, got[0].Hashtags)
	}
}

func TestDecodeUnknownShapePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unknown shape")
		}
	}()
	NewExtractor(nil).Decode("[]", Shape(0))
}

func TestCompleteArtifact(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(nil)
	full := `Done! {"content":"A","hashtags":["x"],"call_to_action":"Go","scene_description":"a dog","image_url":"http://img/1"}`
	a, ok := ex.CompleteArtifact(StageEdit, full)
	if !ok || a.ImageURL != "http://img/1" || a.SceneDescription != "a dog" {
		t.Fatalf("expected complete artifact, ok=%v a=%+v", ok, a)
	}
	if _, ok := ex.CompleteArtifact(StageEdit, `{"content":"A","hashtags":["x"]}`); ok {
		t.Fatalf("partial record must not be complete")
	}
	if _, ok := ex.CompleteArtifact(StageEdit, "Which tone would you like?"); ok {
		t.Fatalf("question must not be complete")
	}
}

func TestStrategyExtraction(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(nil)
	s := ex.Strategy(StageStrategy, `{"goals":["Reach"],"topics":"Recipes","post_count":"4","schedule":{"Monday":2}}`)
	if !reflect.DeepEqual(s.Goals, []string{"Reach"}) || !reflect.DeepEqual(s.Topics, []string{"Recipes"}) {
		t.Fatalf("unexpected lists: %+v", s)
	}
	if s.PostCount != 4 || s.Schedule["Monday"] != 2 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if got := ex.Strategy(StageStrategy, "sorry, I cannot"); !reflect.DeepEqual(got, FallbackStrategy()) {
		t.Fatalf("expected fallback strategy, got %+v", got)
	}
}

func TestResearchFallsBackToText(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(nil)
	r := ex.Research(StageResearch, "  The company sells pizza.  ")
	if r.CompanyAnalysis != "The company sells pizza." || len(r.Trends) != 0 || r.Competition == nil {
		t.Fatalf("unexpected fallback report: %+v", r)
	}
	r = ex.Research(StageResearch, `{"company_analysis":"ok","trends":["a"],"competition":"crowded"}`)
	if r.CompanyAnalysis != "ok" || r.Competition["summary"] != "crowded" {
		t.Fatalf("unexpected report: %+v", r)
	}
}

func TestLoosenJSON(t *testing.T) {
	t.Parallel()

	got := loosenJSON(`{'a': 'it\'s', b: None, "c": [1, 2,], 'd': "say \"hi\""}`)
	want := `{"a": "it's", "b": null, "c": [1, 2], "d": "say \"hi\""}`
	if got != want {
		t.Fatalf("loosenJSON:\n got %s\nwant %s", got, want)
	}
}
