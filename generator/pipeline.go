package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"brand_hero_content/logging"
	"brand_hero_content/store"
)

// PipelineConfig bounds the image fan-out. Archive, when set, is applied to
// image URLs once every draft has been illustrated.
type PipelineConfig struct {
	ImageConcurrency int
	CallTimeout      time.Duration
	Archive          ImageArchiver
}

// Pipeline runs Research → Content → Image(×N) for one company.
type Pipeline struct {
	agent   *Agent
	docs    DocumentStore
	images  ImageGenerator
	signals SignalSource
	logger  *slog.Logger
	cfg     PipelineConfig
}

// NewPipeline wires the collaborators. signals may be nil, in which case the
// research turn's search_trends tool reports itself unavailable.
func NewPipeline(agent *Agent, docs DocumentStore, images ImageGenerator, signals SignalSource, cfg PipelineConfig) (*Pipeline, error) {
	if agent == nil {
		return nil, errors.New("agent is required")
	}
	if docs == nil {
		return nil, errors.New("document store is required")
	}
	if images == nil {
		return nil, errors.New("image generator is required")
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Pipeline{
		agent:   agent,
		docs:    docs,
		images:  images,
		signals: signals,
		logger:  agent.Logger().With("component", "pipeline"),
		cfg:     cfg,
	}, nil
}

type runInputs struct {
	companyContext string
	brandHero      string
	strategy       *Strategy
}

// Run generates count posts for companyID. The result keeps the content
// stage's order; a failed image only blanks that post's image.
func (p *Pipeline) Run(ctx context.Context, companyID string, count int) ([]Artifact, error) {
	if count < 0 {
		return nil, fmt.Errorf("%w: requested count must be non-negative, got %d", ErrValidation, count)
	}
	if strings.TrimSpace(companyID) == "" {
		return nil, fmt.Errorf("%w: company id is required", ErrValidation)
	}
	in, err := p.loadInputs(ctx, companyID)
	if err != nil {
		return nil, err
	}

	report, err := p.research(ctx, in)
	if err != nil {
		return nil, err
	}

	drafts := p.draft(ctx, report, in, count)
	for i, d := range drafts {
		if strings.TrimSpace(d.Content) == "" {
			return nil, stageErr(StageContent, fmt.Errorf("%w: draft %d", ErrEmptyContent, i))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, stageErr(StageContent, err)
	}

	posts := p.illustrate(ctx, drafts, in.brandHero)
	if err := ctx.Err(); err != nil {
		return nil, stageErr(StageImage, err)
	}
	posts = p.archive(ctx, companyID, posts)
	p.logger.Info("pipeline finished", "company", companyID, "requested", count, "produced", len(posts))
	return posts, nil
}

func (p *Pipeline) loadInputs(ctx context.Context, companyID string) (runInputs, error) {
	var in runInputs
	doc, ok, err := p.docs.GetDocument(ctx, store.CollectionCompanyContext, companyID)
	if err != nil {
		return in, fmt.Errorf("%w: load company context: %w", ErrPersistence, err)
	}
	in.companyContext = docString(doc, "context_description")
	if !ok || in.companyContext == "" {
		return in, fmt.Errorf("%w: company context for %s", ErrNotFound, companyID)
	}

	hero, ok, err := p.docs.GetDocument(ctx, store.CollectionBrandHeroContext, companyID)
	if err != nil {
		return in, fmt.Errorf("%w: load brand hero: %w", ErrPersistence, err)
	}
	if ok {
		in.brandHero = docString(hero, "brand_hero_description")
		if in.brandHero == "" {
			in.brandHero = docString(hero, "context_description")
		}
	}

	strategy, ok, err := p.docs.GetDocument(ctx, store.CollectionStrategies, companyID)
	if err != nil {
		return in, fmt.Errorf("%w: load strategy: %w", ErrPersistence, err)
	}
	if ok {
		s := p.agent.Extractor().Strategy(StageStrategy, strategy)
		in.strategy = &s
	}
	return in, nil
}

func (p *Pipeline) research(ctx context.Context, in runInputs) (ResearchReport, error) {
	tools := NewToolSet(p.logger, researchTools(p.agent, p.signals, p.cfg.CallTimeout)...)
	res, err := p.agent.Run(ctx, Step{
		Stage:  StageResearch,
		Prompt: BuildResearchPrompt(in.companyContext, in.brandHero),
		Tools:  tools,
	})
	if err != nil {
		return ResearchReport{}, stageErr(StageResearch, err)
	}
	return p.agent.Extractor().Research(StageResearch, res.Output), nil
}

// draft runs the content turn; a failed turn resolves to the stub post.
func (p *Pipeline) draft(ctx context.Context, report ResearchReport, in runInputs, count int) []Artifact {
	var drafts []Artifact
	res, err := p.agent.Run(ctx, Step{
		Stage:  StageContent,
		Prompt: BuildContentPrompt(report, in.brandHero, in.strategy, count),
	})
	if err != nil {
		p.logger.Warn("content turn failed; using stub post", "error", err)
		drafts = []Artifact{StubArtifact()}
	} else {
		drafts = p.agent.Extractor().Artifacts(StageContent, res.Output)
	}
	if len(drafts) > count {
		drafts = drafts[:count]
	}
	for i := range drafts {
		drafts[i].Hashtags = normalizeHashtags(drafts[i].Hashtags)
	}
	return drafts
}

// illustrate fans out one image task per draft, writing into the draft's own slot.
func (p *Pipeline) illustrate(ctx context.Context, drafts []Artifact, brandHero string) []Artifact {
	out := make([]Artifact, len(drafts))
	var g errgroup.Group
	g.SetLimit(p.cfg.ImageConcurrency)
	for i, d := range drafts {
		g.Go(func() error {
			out[i] = p.illustrateOne(ctx, i, d, brandHero)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// archive swaps each image URL for its durable copy. It only runs on a
// completed image stage so an aborted run leaves no blobs behind.
func (p *Pipeline) archive(ctx context.Context, companyID string, posts []Artifact) []Artifact {
	if p.cfg.Archive == nil {
		return posts
	}
	var g errgroup.Group
	g.SetLimit(p.cfg.ImageConcurrency)
	for i := range posts {
		if posts[i].ImageURL == "" {
			continue
		}
		g.Go(func() error {
			posts[i].ImageURL = archiveImage(ctx, p.cfg.Archive, posts[i].ImageURL, map[string]string{
				"company_id": companyID,
				"prompt":     clip(posts[i].SceneDescription, 256),
			}, p.cfg.CallTimeout, p.logger)
			return nil
		})
	}
	_ = g.Wait()
	return posts
}

func (p *Pipeline) illustrateOne(ctx context.Context, index int, draft Artifact, brandHero string) Artifact {
	post := draft.Clone()
	scene, url, err := p.renderImage(ctx, post, brandHero)
	if err != nil {
		p.logger.Warn("image stage fell back to placeholder", "index", index, "error", err)
		post.ImageURL = ""
		post.SceneDescription = PlaceholderScene(brandHero)
		return post
	}
	post.SceneDescription = scene
	post.ImageURL = url
	return post
}

func (p *Pipeline) renderImage(ctx context.Context, post Artifact, brandHero string) (string, string, error) {
	res, err := p.agent.Run(ctx, Step{Stage: StageImage, Prompt: BuildScenePrompt(post, brandHero)})
	if err != nil {
		return "", "", err
	}
	scene := clip(res.Text(), maxSceneChars)
	if scene == "" {
		return "", "", fmt.Errorf("%w: empty scene description", ErrExtraction)
	}
	url, err := generateImage(ctx, p.images, scene, p.cfg.CallTimeout)
	if err != nil {
		return "", "", err
	}
	return scene, url, nil
}

// generateImage bounds one image call and rejects empty URLs.
func generateImage(ctx context.Context, images ImageGenerator, prompt string, timeout time.Duration) (string, error) {
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	url, err := images.GenerateImage(ictx, prompt)
	if err != nil {
		if errors.Is(err, ErrUpstreamUnavailable) {
			return "", err
		}
		return "", fmt.Errorf("%w: generate image: %w", ErrUpstreamUnavailable, err)
	}
	if strings.TrimSpace(url) == "" {
		return "", fmt.Errorf("%w: image generator returned no url", ErrUpstreamUnavailable)
	}
	return url, nil
}

// archiveImage returns the durable URL for url, or url itself when archiving fails.
func archiveImage(ctx context.Context, archive ImageArchiver, url string, metadata map[string]string, timeout time.Duration, logger *slog.Logger) string {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	durable, err := archive.ArchiveImage(actx, url, metadata)
	if err != nil || strings.TrimSpace(durable) == "" {
		logger.Warn("keeping temporary image url", "url", logging.Truncate(url, 256), "error", err)
		return url
	}
	return durable
}

// PlaceholderScene is the scene description of a post whose image failed.
func PlaceholderScene(brandHero string) string {
	return clip("A scene featuring "+brandHeroLabel(brandHero)+".", maxSceneChars)
}

func docString(doc map[string]any, key string) string {
	if doc == nil {
		return ""
	}
	s, _ := doc[key].(string)
	return strings.TrimSpace(s)
}
