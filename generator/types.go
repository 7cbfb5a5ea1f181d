package generator

import "strings"

// MaxHashtags caps the hashtags kept on a post.
const MaxHashtags = 5

// Artifact is one social post as it moves through the pipeline and the editor.
type Artifact struct {
	PostID           string   `json:"post_id,omitempty"`
	Content          string   `json:"content"`
	Hashtags         []string `json:"hashtags"`
	CallToAction     string   `json:"call_to_action"`
	SceneDescription string   `json:"scene_description"`
	ImageURL         string   `json:"image_url"`
}

// Clone returns a copy that shares no slices with a.
func (a Artifact) Clone() Artifact {
	out := a
	if a.Hashtags != nil {
		out.Hashtags = append([]string(nil), a.Hashtags...)
	}
	return out
}

// Fields renders the artifact as a document for the store.
func (a Artifact) Fields() map[string]any {
	tags := a.Hashtags
	if tags == nil {
		tags = []string{}
	}
	return map[string]any{
		"post_id":           a.PostID,
		"content":           a.Content,
		"hashtags":          tags,
		"call_to_action":    a.CallToAction,
		"scene_description": a.SceneDescription,
		"image_url":         a.ImageURL,
	}
}

// ResearchReport is produced once per run and read only by the content stage.
type ResearchReport struct {
	CompanyAnalysis string         `json:"company_analysis"`
	Trends          []string       `json:"trends"`
	Competition     map[string]any `json:"competition"`
}

// Strategy is the posting plan stored per company.
type Strategy struct {
	Goals          []string       `json:"goals"`
	Topics         []string       `json:"topics"`
	Tone           string         `json:"tone"`
	TargetAudience []string       `json:"target_audience"`
	PostCount      int            `json:"post_count"`
	ContentTypes   []string       `json:"content_types"`
	Schedule       map[string]int `json:"schedule"`
	Rationale      string         `json:"rationale"`
}

// Fields renders the strategy as a document for the store.
func (s Strategy) Fields() map[string]any {
	return map[string]any{
		"goals":           s.Goals,
		"topics":          s.Topics,
		"tone":            s.Tone,
		"target_audience": s.TargetAudience,
		"post_count":      s.PostCount,
		"content_types":   s.ContentTypes,
		"schedule":        s.Schedule,
		"rationale":       s.Rationale,
	}
}

// ConversationState is the durable anchor of a multi-turn interaction.
type ConversationState struct {
	Key                string         `json:"conversation_key"`
	PreviousTurnHandle string         `json:"previous_turn_handle,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
}

// EditState is where an edit turn ended.
type EditState string

const (
	EditAwaitingClarification EditState = "AWAITING_CLARIFICATION"
	EditReadyToApply          EditState = "READY_TO_APPLY"
	EditApplied               EditState = "APPLIED"
	EditSaved                 EditState = "SAVED"
)

// EditResult is returned by Editor.Run.
type EditResult struct {
	ConversationID string    `json:"conversation_id"`
	Artifact       Artifact  `json:"artifact"`
	State          EditState `json:"state"`
	Output         string    `json:"output"`
	ToolsCalled    []string  `json:"tools_called,omitempty"`
}

// CollectResult is returned by the context collectors.
type CollectResult struct {
	Output             string `json:"output"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	Stored             bool   `json:"stored"`
}

// normalizeHashtags trims '#', drops blanks and keeps at most MaxHashtags.
func normalizeHashtags(in []string) []string {
	out := make([]string, 0, len(in))
	for _, tag := range in {
		tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		if tag == "" {
			continue
		}
		out = append(out, tag)
		if len(out) == MaxHashtags {
			break
		}
	}
	return out
}

func brandHeroLabel(brandHero string) string {
	if s := strings.TrimSpace(brandHero); s != "" {
		return s
	}
	return "our product"
}
