package generator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/tidwall/gjson"

	"brand_hero_content/logging"
)

// Shape is the top-level structure a stage declares for its output.
type Shape int

const (
	ShapeArray Shape = iota + 1
	ShapeObject
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeObject:
		return "object"
	}
	return "shape(" + strconv.Itoa(int(s)) + ")"
}

const rawLogLimit = 1024

// Fields every complete post record carries.
var artifactFields = []string{"content", "hashtags", "call_to_action", "scene_description", "image_url"}

// StubArtifact is the placeholder post used when no usable output was produced.
func StubArtifact() Artifact {
	return Artifact{
		Content:      "Discover our latest innovations designed with you in mind!",
		Hashtags:     []string{"Innovation", "Solutions", "Quality"},
		CallToAction: "Learn more!",
	}
}

// FallbackStrategy is used when the strategy turn yields nothing usable.
func FallbackStrategy() Strategy {
	return Strategy{
		Goals:          []string{"Increase brand awareness", "Drive engagement"},
		Topics:         []string{"Product innovations", "Customer success stories"},
		Tone:           "Professional yet approachable",
		TargetAudience: []string{"Tech professionals", "Business decision-makers"},
		PostCount:      3,
		ContentTypes:   []string{"Image posts", "Text posts"},
		Schedule:       map[string]int{"Monday": 1, "Wednesday": 1, "Friday": 1},
		Rationale:      "Default strategy based on best practices.",
	}
}

// Extractor turns raw model output into typed values. Malformed output never
// produces an error: every typed accessor has a deterministic fallback.
type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Extractor{logger: logger}
}

// Decode runs the recovery ladder and returns JSON of the requested shape.
// An unknown shape is a programming error and panics.
func (e *Extractor) Decode(raw any, shape Shape) ([]byte, bool) {
	if shape != ShapeArray && shape != ShapeObject {
		panic(fmt.Sprintf("generator: extractor called with %s", shape))
	}
	switch v := raw.(type) {
	case nil:
		return nil, false
	case string:
		return decodeText(v, shape)
	case []byte:
		if gjson.ValidBytes(v) {
			return fitShape(gjson.ParseBytes(v), shape)
		}
		return decodeText(string(v), shape)
	case json.RawMessage:
		if gjson.ValidBytes(v) {
			return fitShape(gjson.ParseBytes(v), shape)
		}
		return decodeText(string(v), shape)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return fitShape(gjson.ParseBytes(b), shape)
	}
}

// Artifacts extracts an ordered list of posts. Elements without a string
// content are dropped; output with no usable element yields the stub.
func (e *Extractor) Artifacts(stage string, raw any) []Artifact {
	data, ok := e.Decode(raw, ShapeArray)
	if !ok {
		e.fallback(stage, raw, "no parsable array")
		return []Artifact{StubArtifact()}
	}
	items := gjson.ParseBytes(data).Array()
	if len(items) == 0 {
		return []Artifact{}
	}
	out := make([]Artifact, 0, len(items))
	for i, item := range items {
		a, err := artifactFromJSON(item)
		if err != nil {
			e.logger.Warn("dropping malformed element", "stage", stage, "index", i, "reason", err, "raw", logging.Truncate(item.Raw, rawLogLimit))
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		e.fallback(stage, raw, "every element was malformed")
		return []Artifact{StubArtifact()}
	}
	return out
}

// Record extracts one object and reports whether every required key is present.
func (e *Extractor) Record(stage string, raw any, required ...string) (gjson.Result, bool) {
	data, ok := e.Decode(raw, ShapeObject)
	if !ok {
		e.fallback(stage, raw, "no parsable object")
		return gjson.Result{}, false
	}
	res := gjson.ParseBytes(data)
	for _, key := range required {
		if !res.Get(gjsonKey(key)).Exists() {
			e.logger.Debug("record incomplete", "stage", stage, "missing", key)
			return res, false
		}
	}
	return res, true
}

// CompleteArtifact succeeds only when raw is a full post record.
func (e *Extractor) CompleteArtifact(stage string, raw any) (Artifact, bool) {
	res, ok := e.Record(stage, raw, artifactFields...)
	if !ok {
		return Artifact{}, false
	}
	a, err := artifactFromJSON(res)
	if err != nil {
		e.logger.Warn("record rejected", "stage", stage, "reason", err)
		return Artifact{}, false
	}
	return a, true
}

// Strategy extracts a posting plan, falling back to FallbackStrategy.
func (e *Extractor) Strategy(stage string, raw any) Strategy {
	res, ok := e.Record(stage, raw)
	if !ok {
		return FallbackStrategy()
	}
	if !res.Get("goals").Exists() && !res.Get("topics").Exists() {
		e.fallback(stage, raw, "strategy without goals or topics")
		return FallbackStrategy()
	}
	s := Strategy{
		Goals:          stringList(res.Get("goals")),
		Topics:         stringList(res.Get("topics")),
		Tone:           strings.TrimSpace(res.Get("tone").String()),
		TargetAudience: stringList(res.Get("target_audience")),
		PostCount:      int(res.Get("post_count").Int()),
		ContentTypes:   stringList(res.Get("content_types")),
		Schedule:       map[string]int{},
		Rationale:      strings.TrimSpace(res.Get("rationale").String()),
	}
	res.Get("schedule").ForEach(func(day, count gjson.Result) bool {
		s.Schedule[day.String()] = int(count.Int())
		return true
	})
	return s
}

// Research extracts the research report; non-object output becomes the analysis text.
func (e *Extractor) Research(stage string, raw any) ResearchReport {
	text := TurnResult{Output: raw}.Text()
	report := ResearchReport{Trends: []string{}, Competition: map[string]any{}}
	res, ok := e.Record(stage, raw)
	if !ok {
		report.CompanyAnalysis = strings.TrimSpace(text)
		return report
	}
	switch analysis := res.Get("company_analysis"); {
	case analysis.Type == gjson.String:
		report.CompanyAnalysis = analysis.String()
	case analysis.Exists():
		report.CompanyAnalysis = analysis.Raw
	default:
		report.CompanyAnalysis = strings.TrimSpace(text)
	}
	report.Trends = stringList(res.Get("trends"))
	switch comp := res.Get("competition"); {
	case comp.IsObject():
		_ = json.Unmarshal([]byte(comp.Raw), &report.Competition)
	case comp.Exists():
		report.Competition["summary"] = comp.Value()
	}
	return report
}

func (e *Extractor) fallback(stage string, raw any, reason string) {
	e.logger.Warn("extraction fell back", "stage", stage, "reason", reason,
		"raw", logging.Truncate(TurnResult{Output: raw}.Text(), rawLogLimit))
}

func decodeText(text string, shape Shape) ([]byte, bool) {
	candidate := text
	for attempt := 0; attempt < 2; attempt++ {
		if out, ok := strictParse(candidate, shape); ok {
			return out, true
		}
		for _, span := range append(bracketSpans(candidate), balancedSpans(candidate, shape)...) {
			if out, ok := strictParse(span, shape); ok {
				return out, true
			}
			if out, ok := strictParse(loosenJSON(span), shape); ok {
				return out, true
			}
		}
		cleaned := sanitize(candidate)
		if cleaned == candidate {
			break
		}
		candidate = cleaned
	}
	return nil, false
}

func strictParse(s string, shape Shape) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !gjson.Valid(s) {
		return nil, false
	}
	return fitShape(gjson.Parse(s), shape)
}

// fitShape accepts res when it has, or trivially wraps, the requested shape.
func fitShape(res gjson.Result, shape Shape) ([]byte, bool) {
	switch shape {
	case ShapeArray:
		if res.IsArray() {
			return []byte(res.Raw), true
		}
		if res.IsObject() {
			for _, key := range []string{"posts", "drafts", "items"} {
				if v := res.Get(key); v.IsArray() {
					return []byte(v.Raw), true
				}
			}
			return []byte("[" + res.Raw + "]"), true
		}
	case ShapeObject:
		if res.IsObject() {
			return []byte(res.Raw), true
		}
		if res.IsArray() {
			if items := res.Array(); len(items) == 1 && items[0].IsObject() {
				return []byte(items[0].Raw), true
			}
		}
	}
	return nil, false
}

// bracketSpans returns the widest [...] and {...} spans, widest first.
func bracketSpans(s string) []string {
	var spans []string
	for _, pair := range [][2]byte{{'[', ']'}, {'{', '}'}} {
		i := strings.IndexByte(s, pair[0])
		j := strings.LastIndexByte(s, pair[1])
		if i >= 0 && j > i {
			spans = append(spans, s[i:j+1])
		}
	}
	if len(spans) == 2 && len(spans[1]) > len(spans[0]) {
		spans[0], spans[1] = spans[1], spans[0]
	}
	return spans
}

// balancedSpans returns every top-level balanced [...] and {...} span in s.
// Spans of the expected shape come first, each group widest first.
func balancedSpans(s string, shape Shape) []string {
	var arrays, objects []string
	for i := 0; i < len(s); i++ {
		if s[i] != '[' && s[i] != '{' {
			continue
		}
		end := matchBracket(s, i)
		if end < 0 {
			continue
		}
		if s[i] == '[' {
			arrays = append(arrays, s[i:end+1])
		} else {
			objects = append(objects, s[i:end+1])
		}
		i = end
	}
	widest := func(a, b string) int { return len(b) - len(a) }
	slices.SortStableFunc(arrays, widest)
	slices.SortStableFunc(objects, widest)
	if shape == ShapeObject {
		return append(objects, arrays...)
	}
	return append(arrays, objects...)
}

// matchBracket returns the index closing the bracket at start, or -1 when the
// span is unterminated or its brackets do not nest. Brackets inside
// double-quoted strings are ignored.
func matchBracket(s string, start int) int {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return r
		case unicode.IsSpace(r):
			return ' '
		case !unicode.IsPrint(r):
			return -1
		}
		return r
	}, s)
}

// loosenJSON rewrites literal-style output into JSON: single-quoted strings,
// bare keys, trailing commas and True/False/None.
func loosenJSON(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '"' || r == '\'':
			i = copyQuoted(&b, rs, i)
		case r == ',':
			j := skipSpace(rs, i+1)
			if j < len(rs) && (rs[j] == ']' || rs[j] == '}') {
				continue
			}
			b.WriteRune(r)
		case r == '_' || unicode.IsLetter(r):
			j := i
			for j < len(rs) && (rs[j] == '_' || unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j])) {
				j++
			}
			word := string(rs[i:j])
			if k := skipSpace(rs, j); k < len(rs) && rs[k] == ':' {
				b.WriteString(strconv.Quote(word))
			} else {
				switch word {
				case "True":
					b.WriteString("true")
				case "False":
					b.WriteString("false")
				case "None":
					b.WriteString("null")
				default:
					b.WriteString(word)
				}
			}
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// copyQuoted writes the string starting at rs[start] as a JSON string and
// returns the index of its closing quote.
func copyQuoted(b *strings.Builder, rs []rune, start int) int {
	quote := rs[start]
	b.WriteByte('"')
	for i := start + 1; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '\\' && i+1 < len(rs):
			if rs[i+1] == '\'' {
				b.WriteRune('\'')
			} else {
				b.WriteRune(c)
				b.WriteRune(rs[i+1])
			}
			i++
		case c == quote:
			b.WriteByte('"')
			return i
		case c == '"':
			b.WriteString(`\"`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte('"')
	return len(rs) - 1
}

func skipSpace(rs []rune, i int) int {
	for i < len(rs) && unicode.IsSpace(rs[i]) {
		i++
	}
	return i
}

func artifactFromJSON(item gjson.Result) (Artifact, error) {
	if !item.IsObject() {
		return Artifact{}, fmt.Errorf("%w: element is not an object", ErrExtraction)
	}
	content := item.Get("content")
	if content.Type != gjson.String {
		return Artifact{}, fmt.Errorf("%w: content missing or not text", ErrExtraction)
	}
	return Artifact{
		PostID:           item.Get("post_id").String(),
		Content:          content.String(),
		Hashtags:         hashtagsFrom(item.Get("hashtags")),
		CallToAction:     item.Get("call_to_action").String(),
		SceneDescription: item.Get("scene_description").String(),
		ImageURL:         item.Get("image_url").String(),
	}, nil
}

func hashtagsFrom(res gjson.Result) []string {
	if res.Type == gjson.String {
		return normalizeHashtags(strings.FieldsFunc(res.String(), func(r rune) bool {
			return r == ',' || unicode.IsSpace(r)
		}))
	}
	return normalizeHashtags(stringList(res))
}

func stringList(res gjson.Result) []string {
	if !res.Exists() {
		return []string{}
	}
	if !res.IsArray() {
		if s := strings.TrimSpace(res.String()); s != "" {
			return []string{s}
		}
		return []string{}
	}
	out := []string{}
	for _, item := range res.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var gjsonKeyEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func gjsonKey(key string) string {
	return gjsonKeyEscaper.Replace(key)
}
