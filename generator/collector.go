package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"brand_hero_content/store"
)

// Collector runs the multi-turn conversations that gather company context and
// design the brand hero. Each conversation resumes through the
// ConversationStore under "<kind>:<company_id>".
type Collector struct {
	agent         *Agent
	docs          DocumentStore
	images        ImageGenerator
	blobs         BlobArchiver
	conversations *ConversationStore
	logger        *slog.Logger
	callTimeout   time.Duration
}

// NewCollector wires the collectors; blobs may be nil, in which case the brand
// hero image is referenced by URL only.
func NewCollector(agent *Agent, docs DocumentStore, images ImageGenerator, blobs BlobArchiver, conversations *ConversationStore, callTimeout time.Duration) (*Collector, error) {
	if agent == nil || docs == nil || images == nil || conversations == nil {
		return nil, errors.New("collector requires agent, document store, image generator and conversation store")
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Collector{
		agent:         agent,
		docs:          docs,
		images:        images,
		blobs:         blobs,
		conversations: conversations,
		logger:        agent.Logger().With("component", "collector"),
		callTimeout:   callTimeout,
	}, nil
}

// RunCompanyContext advances the company-context conversation by one turn.
func (c *Collector) RunCompanyContext(ctx context.Context, companyID, userResponse string, finish bool) (CollectResult, error) {
	tools := NewToolSet(c.logger,
		c.getInitialDataTool(companyID),
		c.storeContextTool(store.CollectionCompanyContext, companyID),
	)
	return c.run(ctx, StageCompanyContext, store.CollectionCompanyContext, companyID, userResponse, finish, tools, BuildCompanyContextPrompt)
}

// RunBrandHero advances the brand-hero conversation by one turn.
func (c *Collector) RunBrandHero(ctx context.Context, companyID, userResponse string, finish bool) (CollectResult, error) {
	tools := NewToolSet(c.logger,
		c.getCompanyContextTool(companyID),
		c.storeContextTool(store.CollectionBrandHeroContext, companyID),
		c.generateBrandHeroTool(companyID),
	)
	return c.run(ctx, StageBrandHero, store.CollectionBrandHeroContext, companyID, userResponse, finish, tools, BuildBrandHeroPrompt)
}

func (c *Collector) run(ctx context.Context, kind, collection, companyID, userResponse string, finish bool, tools *ToolSet, build func(string, bool) Prompt) (CollectResult, error) {
	if strings.TrimSpace(companyID) == "" {
		return CollectResult{}, fmt.Errorf("%w: company id is required", ErrValidation)
	}
	res, err := c.conversations.Continue(ctx, kind+":"+companyID, userResponse,
		func(ctx context.Context, previous, input string) (TurnResult, map[string]any, error) {
			r, err := c.agent.Run(ctx, Step{Stage: kind, Prompt: build(input, finish), Tools: tools, PreviousHandle: previous})
			return r, nil, err
		})
	if err != nil && (!errors.Is(err, ErrPersistence) || res.Output == nil) {
		return CollectResult{}, err
	}

	out := CollectResult{Output: res.Text(), PreviousResponseID: res.Handle, Stored: tools.Called("store_context")}
	if finish && !out.Stored {
		if text := strings.TrimSpace(out.Output); text != "" {
			if serr := c.storeContext(ctx, collection, companyID, text); serr != nil {
				return out, serr
			}
			out.Stored = true
		}
	}
	return out, err
}

func (c *Collector) storeContext(ctx context.Context, collection, companyID, description string) error {
	if err := c.docs.UpsertDocument(ctx, collection, companyID, map[string]any{"context_description": description}); err != nil {
		return fmt.Errorf("%w: store %s: %w", ErrPersistence, collection, err)
	}
	return nil
}

func (c *Collector) storeContextTool(collection, companyID string) Tool {
	return Tool{
		Name:        "store_context",
		Description: "Store the complete description gathered so far.",
		Params:      []Param{{Name: "context_description", Type: ParamString, Description: "Complete description", Required: true}},
		Handler: func(ctx context.Context, args Args) (any, error) {
			if err := c.storeContext(ctx, collection, companyID, strings.TrimSpace(args.String("context_description"))); err != nil {
				return nil, err
			}
			return "stored", nil
		},
	}
}

func (c *Collector) getInitialDataTool(companyID string) Tool {
	return Tool{
		Name:        "get_initial_data",
		Description: "Fetch what is already known about the company.",
		Handler: func(ctx context.Context, _ Args) (any, error) {
			doc, ok, err := c.docs.GetDocument(ctx, store.CollectionCompanyInitial, companyID)
			if err != nil {
				return nil, fmt.Errorf("%w: load initial data: %w", ErrPersistence, err)
			}
			if !ok {
				return map[string]any{}, nil
			}
			delete(doc, store.UpdatedAtField)
			return doc, nil
		},
	}
}

func (c *Collector) getCompanyContextTool(companyID string) Tool {
	return Tool{
		Name:        "get_company_context",
		Description: "Fetch the stored company description.",
		Handler: func(ctx context.Context, _ Args) (any, error) {
			doc, ok, err := c.docs.GetDocument(ctx, store.CollectionCompanyContext, companyID)
			if err != nil {
				return nil, fmt.Errorf("%w: load company context: %w", ErrPersistence, err)
			}
			text := docString(doc, "context_description")
			if !ok || text == "" {
				return nil, fmt.Errorf("%w: company context for %s", ErrNotFound, companyID)
			}
			return text, nil
		},
	}
}

func (c *Collector) generateBrandHeroTool(companyID string) Tool {
	return Tool{
		Name:        "generate_brand_hero",
		Description: "Generate the brand hero image from the stored description.",
		Handler: func(ctx context.Context, _ Args) (any, error) {
			return c.generateBrandHero(ctx, companyID)
		},
	}
}

// generateBrandHero composes an image prompt, renders and archives the image
// and derives a reusable description, all stored on the brand hero record.
func (c *Collector) generateBrandHero(ctx context.Context, companyID string) (map[string]any, error) {
	doc, ok, err := c.docs.GetDocument(ctx, store.CollectionBrandHeroContext, companyID)
	if err != nil {
		return nil, fmt.Errorf("%w: load brand hero: %w", ErrPersistence, err)
	}
	description := docString(doc, "context_description")
	if !ok || description == "" {
		return nil, fmt.Errorf("%w: store the brand hero description before generating it", ErrNotFound)
	}

	res, err := c.agent.Run(ctx, Step{Stage: StageBrandHeroImage, Prompt: BuildBrandHeroImagePrompt(description)})
	if err != nil {
		return nil, err
	}
	imagePrompt := clip(res.Text(), maxSceneChars)
	if imagePrompt == "" {
		imagePrompt = clip(description, maxSceneChars)
	}
	url, err := generateImage(ctx, c.images, imagePrompt, c.callTimeout)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{"image_url": url, "image_prompt": imagePrompt}
	if c.blobs != nil {
		bctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		id, err := c.blobs.StoreBlob(bctx, url, map[string]string{"company_id": companyID, "kind": "brand_hero"})
		cancel()
		if err != nil {
			c.logger.Warn("brand hero image not archived", "company", companyID, "error", err)
		} else {
			fields["image_id"] = id
		}
	}

	digest, err := c.agent.Run(ctx, Step{Stage: StageBrandHeroDigest, Prompt: BuildBrandHeroDescribePrompt(description, imagePrompt)})
	if err != nil {
		c.logger.Warn("brand hero description not derived", "company", companyID, "error", err)
	} else if text := strings.TrimSpace(digest.Text()); text != "" {
		fields["brand_hero_description"] = text
	}

	if err := c.docs.UpsertDocument(ctx, store.CollectionBrandHeroContext, companyID, fields); err != nil {
		return nil, fmt.Errorf("%w: store brand hero: %w", ErrPersistence, err)
	}
	return fields, nil
}
