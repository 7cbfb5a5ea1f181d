package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"brand_hero_content/store"
)

// EditRequest is one user-driven refinement turn on a post.
type EditRequest struct {
	Artifact       Artifact
	CompanyID      string
	ConversationID string
	UserResponse   string
	// Finish persists the working copy even when the turn did not end with a
	// complete record.
	Finish bool
}

// Editor runs edit turns: the model chooses which update tools fire, the
// editor validates and applies them to a working copy and saves complete posts.
type Editor struct {
	agent         *Agent
	docs          DocumentStore
	images        ImageGenerator
	conversations *ConversationStore
	archive       ImageArchiver
	logger        *slog.Logger
	callTimeout   time.Duration
}

// EditorOption customizes an Editor.
type EditorOption func(*Editor)

// WithEditorArchive makes save store the post's image durably before the post itself.
func WithEditorArchive(archive ImageArchiver) EditorOption {
	return func(e *Editor) {
		e.archive = archive
	}
}

func NewEditor(agent *Agent, docs DocumentStore, images ImageGenerator, conversations *ConversationStore, callTimeout time.Duration, opts ...EditorOption) (*Editor, error) {
	if agent == nil || docs == nil || images == nil || conversations == nil {
		return nil, errors.New("editor requires agent, document store, image generator and conversation store")
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	e := &Editor{
		agent:         agent,
		docs:          docs,
		images:        images,
		conversations: conversations,
		logger:        agent.Logger().With("component", "editor"),
		callTimeout:   callTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes one edit turn. Without a complete final record (and without
// Finish) the working copy is returned as AWAITING_CLARIFICATION; it equals
// the supplied artifact unless a tool changed it during the turn.
func (e *Editor) Run(ctx context.Context, req EditRequest) (EditResult, error) {
	if strings.TrimSpace(req.CompanyID) == "" {
		return EditResult{}, fmt.Errorf("%w: company id is required", ErrValidation)
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID == "" {
		convID = uuid.NewString()
	}
	session := newEditSession(e, req.Artifact, req.CompanyID)

	res, turnErr := e.conversations.Continue(ctx, "edit:"+convID, req.UserResponse,
		func(ctx context.Context, previous, input string) (TurnResult, map[string]any, error) {
			r, err := e.agent.Run(ctx, Step{
				Stage:          StageEdit,
				Prompt:         BuildEditPrompt(session.current(), req.CompanyID, convID, input, req.Finish),
				Tools:          session.tools,
				PreviousHandle: previous,
			})
			if err != nil {
				return r, nil, err
			}
			return r, map[string]any{
				"company_id": req.CompanyID,
				"artifact":   session.current().Fields(),
			}, nil
		})
	if turnErr != nil && (!errors.Is(turnErr, ErrPersistence) || res.Output == nil) {
		return EditResult{}, turnErr
	}

	result := EditResult{
		ConversationID: convID,
		Output:         res.Text(),
		State:          EditAwaitingClarification,
	}
	for _, c := range session.tools.Calls() {
		result.ToolsCalled = append(result.ToolsCalled, c.Name)
	}

	if final, ok := e.agent.Extractor().CompleteArtifact(StageEdit, res.Output); ok {
		session.apply(final)
		result.State = EditReadyToApply
	} else if req.Finish {
		result.State = EditReadyToApply
	} else if session.savedCurrent() {
		result.State = EditSaved
	}

	if result.State == EditReadyToApply {
		saved, err := session.save(ctx)
		result.Artifact = saved
		if err != nil {
			result.State = EditApplied
			return result, err
		}
		result.State = EditSaved
		return result, turnErr
	}
	result.Artifact = session.current()
	return result, turnErr
}

// LoadPost returns a saved post.
func (e *Editor) LoadPost(ctx context.Context, postID string) (Artifact, error) {
	if strings.TrimSpace(postID) == "" {
		return Artifact{}, fmt.Errorf("%w: post id is required", ErrValidation)
	}
	doc, ok, err := e.docs.GetDocument(ctx, store.CollectionPosts, postID)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: load post: %w", ErrPersistence, err)
	}
	if !ok {
		return Artifact{}, fmt.Errorf("%w: post %s", ErrNotFound, postID)
	}
	post, ok := e.agent.Extractor().CompleteArtifact("load_post", doc)
	if !ok {
		return Artifact{}, fmt.Errorf("%w: stored post %s is incomplete", ErrNotFound, postID)
	}
	post.PostID = postID
	return post, nil
}

type editSession struct {
	editor    *Editor
	companyID string
	tools     *ToolSet

	mu           sync.Mutex
	post         Artifact
	version      int
	savedVersion int
}

func newEditSession(e *Editor, post Artifact, companyID string) *editSession {
	s := &editSession{editor: e, companyID: companyID, post: post.Clone(), savedVersion: -1}
	s.tools = NewToolSet(e.logger, s.palette()...)
	return s
}

func (s *editSession) current() Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.post.Clone()
}

func (s *editSession) mutate(fn func(p *Artifact)) Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.post)
	s.version++
	return s.post.Clone()
}

// apply replaces the working copy with a complete record, keeping its id.
func (s *editSession) apply(final Artifact) {
	s.mutate(func(p *Artifact) {
		id := p.PostID
		*p = final.Clone()
		p.Hashtags = normalizeHashtags(p.Hashtags)
		if p.PostID == "" {
			p.PostID = id
		}
	})
}

func (s *editSession) savedCurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedVersion == s.version
}

// save upserts the working copy by post_id, assigning one on first save.
func (s *editSession) save(ctx context.Context) (Artifact, error) {
	s.mu.Lock()
	if s.post.PostID == "" {
		s.post.PostID = uuid.NewString()
	}
	post := s.post.Clone()
	version := s.version
	s.mu.Unlock()

	if s.editor.archive != nil && post.ImageURL != "" {
		durable := archiveImage(ctx, s.editor.archive, post.ImageURL, map[string]string{
			"company_id": s.companyID,
			"post_id":    post.PostID,
		}, s.editor.callTimeout, s.editor.logger)
		if durable != post.ImageURL {
			post.ImageURL = durable
			s.mu.Lock()
			if s.version == version {
				s.post.ImageURL = durable
			}
			s.mu.Unlock()
		}
	}

	fields := post.Fields()
	fields["company_id"] = s.companyID
	if err := s.editor.docs.UpsertDocument(ctx, store.CollectionPosts, post.PostID, fields); err != nil {
		s.editor.logger.Error("post save failed", "post_id", post.PostID, "error", err)
		return post, fmt.Errorf("%w: save post %s: %w", ErrPersistence, post.PostID, err)
	}
	s.mu.Lock()
	s.savedVersion = version
	s.mu.Unlock()
	return post, nil
}

// regenerate produces a new image for scene, which must differ from the current one.
func (s *editSession) regenerate(ctx context.Context, scene string) (string, string, error) {
	scene = clip(scene, maxSceneChars)
	if sameScene(scene, s.current().SceneDescription) {
		return "", "", fmt.Errorf("%w: scene_description must be newly composed, not the current one", ErrValidation)
	}
	url, err := generateImage(ctx, s.editor.images, scene, s.editor.callTimeout)
	if err != nil {
		return "", "", err
	}
	return scene, url, nil
}

func sameScene(a, b string) bool {
	norm := func(s string) string { return strings.Join(strings.Fields(strings.ToLower(s)), " ") }
	return norm(a) == norm(b)
}

func (s *editSession) palette() []Tool {
	return []Tool{
		{
			Name:        "update_content",
			Description: "Replace the post text.",
			Params:      []Param{{Name: "content", Type: ParamString, Description: "New post text", Required: true}},
			Handler: func(_ context.Context, args Args) (any, error) {
				return s.mutate(func(p *Artifact) { p.Content = strings.TrimSpace(args.String("content")) }), nil
			},
		},
		{
			Name:        "update_hashtags",
			Description: "Replace the hashtags (at most five, without '#').",
			Params:      []Param{{Name: "hashtags", Type: ParamStringList, Description: "New hashtags", Required: true}},
			Handler: func(_ context.Context, args Args) (any, error) {
				return s.mutate(func(p *Artifact) { p.Hashtags = normalizeHashtags(args.Strings("hashtags")) }), nil
			},
		},
		{
			Name:        "update_cta",
			Description: "Replace the call to action.",
			Params:      []Param{{Name: "call_to_action", Type: ParamString, Description: "New call to action", Required: true}},
			Handler: func(_ context.Context, args Args) (any, error) {
				return s.mutate(func(p *Artifact) { p.CallToAction = strings.TrimSpace(args.String("call_to_action")) }), nil
			},
		},
		{
			Name:        "update_image",
			Description: "Generate a new image from a newly composed scene description.",
			Params:      []Param{{Name: "scene_description", Type: ParamString, Description: "New scene description", Required: true}},
			Handler: func(ctx context.Context, args Args) (any, error) {
				scene, url, err := s.regenerate(ctx, args.String("scene_description"))
				if err != nil {
					return nil, err
				}
				return s.mutate(func(p *Artifact) {
					p.SceneDescription = scene
					p.ImageURL = url
				}), nil
			},
		},
		{
			Name:        "update_full",
			Description: "Replace text, hashtags and call to action; a new scene description also regenerates the image.",
			Params: []Param{
				{Name: "content", Type: ParamString, Description: "New post text", Required: true},
				{Name: "hashtags", Type: ParamStringList, Description: "New hashtags", Required: true},
				{Name: "call_to_action", Type: ParamString, Description: "New call to action", Required: true},
				{Name: "scene_description", Type: ParamString, Description: "Optional new scene description"},
			},
			Handler: func(ctx context.Context, args Args) (any, error) {
				scene, url := "", ""
				if next := strings.TrimSpace(args.String("scene_description")); next != "" && !sameScene(next, s.current().SceneDescription) {
					var err error
					if scene, url, err = s.regenerate(ctx, next); err != nil {
						return nil, err
					}
				}
				return s.mutate(func(p *Artifact) {
					p.Content = strings.TrimSpace(args.String("content"))
					p.Hashtags = normalizeHashtags(args.Strings("hashtags"))
					p.CallToAction = strings.TrimSpace(args.String("call_to_action"))
					if url != "" {
						p.SceneDescription = scene
						p.ImageURL = url
					}
				}), nil
			},
		},
		{
			Name:        "save",
			Description: "Save the post in its current state.",
			Handler: func(ctx context.Context, _ Args) (any, error) {
				post, err := s.save(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]string{"post_id": post.PostID}, nil
			},
		},
	}
}
