package publisher

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"

	"brand_hero_content/generator"
)

// RenderPost converts a post to an HTML preview through Markdown.
func RenderPost(post generator.Artifact) (string, error) {
	html, err := mdToHTML(postMarkdown(post))
	if err != nil {
		return "", err
	}
	return normalizeForPreview(html), nil
}

// postMarkdown lays a post out as image, text, hashtags and call to action.
func postMarkdown(post generator.Artifact) string {
	var sb strings.Builder
	if post.ImageURL != "" {
		alt := defaultDigest(post.SceneDescription, 120)
		sb.WriteString(fmt.Sprintf("![%s](%s)\n\n", escapeAlt(alt), post.ImageURL))
	}
	sb.WriteString(strings.TrimSpace(post.Content))
	sb.WriteString("\n\n")
	if len(post.Hashtags) > 0 {
		tags := make([]string, 0, len(post.Hashtags))
		for _, tag := range post.Hashtags {
			tags = append(tags, "#"+tag)
		}
		// a leading # would start a heading
		sb.WriteString(`\` + strings.Join(tags, " "))
		sb.WriteString("\n\n")
	}
	if cta := strings.TrimSpace(post.CallToAction); cta != "" {
		sb.WriteString("**" + cta + "**\n")
	}
	return sb.String()
}

func mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

var (
	imgTagRe = regexp.MustCompile(`<img ([^>]*?)/?>`)
	linkRe   = regexp.MustCompile(`<a href="(https?://[^"]+)"`)
)

// normalizeForPreview makes images responsive and external links open in a new tab.
func normalizeForPreview(html string) string {
	html = imgTagRe.ReplaceAllString(html, `<img $1 style="max-width:100%;height:auto;" loading="lazy">`)
	html = linkRe.ReplaceAllString(html, `<a href="$1" target="_blank" rel="noopener"`)
	return html
}

var altEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func escapeAlt(s string) string {
	return altEscaper.Replace(s)
}

func defaultDigest(text string, limit int) string {
	joined := strings.Join(strings.Fields(text), " ")
	rs := []rune(joined)
	if len(rs) <= limit {
		return joined
	}
	return string(rs[:limit])
}
