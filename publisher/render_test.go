package publisher

import (
	"strings"
	"testing"

	"brand_hero_content/generator"
)

func TestRenderPost(t *testing.T) {
	t.Parallel()

	html, err := RenderPost(generator.Artifact{
		Content:          "Fresh pizza <b>tonight</b>",
		Hashtags:         []string{"pizza", "local"},
		CallToAction:     "Order now",
		SceneDescription: "A pizza [hot] on a table",
		ImageURL:         "/api/images/abc",
	})
	if err != nil {
		t.Fatalf("RenderPost: %v", err)
	}
	for _, want := range []string{
		`<img src="/api/images/abc" alt="A pizza [hot] on a table"`,
		`loading="lazy"`,
		`#pizza #local`,
		`<strong>Order now</strong>`,
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("preview missing %q:\n%s", want, html)
		}
	}
	if strings.Contains(html, "<h1>") || strings.Contains(html, "<b>tonight</b>") {
		t.Fatalf("hashtags or raw html leaked into markup:\n%s", html)
	}
}

func TestRenderPostWithoutImage(t *testing.T) {
	t.Parallel()

	html, err := RenderPost(generator.Artifact{Content: "See [our site](https://example.com)"})
	if err != nil {
		t.Fatalf("RenderPost: %v", err)
	}
	if strings.Contains(html, "<img") {
		t.Fatalf("unexpected image:\n%s", html)
	}
	if !strings.Contains(html, `target="_blank"`) {
		t.Fatalf("external link not normalized:\n%s", html)
	}
}
