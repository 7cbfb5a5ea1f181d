package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"brand_hero_content/config"
	"brand_hero_content/generator"
	"brand_hero_content/logging"
	"brand_hero_content/publisher"
	"brand_hero_content/research"
	"brand_hero_content/server"
	"brand_hero_content/store"
)

type backend interface {
	generator.DocumentStore
	publisher.BlobStore
	io.Closer
}

type services struct {
	pipeline  *generator.Pipeline
	editor    *generator.Editor
	collector *generator.Collector
	strategy  *generator.StrategyService
	archiver  *publisher.Archiver
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	configPath := flag.String("config", "", "path to config.json or config.yaml")
	serve := flag.Bool("serve", false, "start web server")
	addr := flag.String("addr", "", "http listen address when --serve (overrides config.server_addr)")
	companyID := flag.String("company", "", "company id for one-shot generation")
	count := flag.Int("count", 3, "number of posts to generate")
	mock := flag.Bool("mock", false, "use the scripted model and image generator instead of OpenAI")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *mock {
		cfg.LLM.Provider = "mock"
	}
	logger := logging.New(cfg.Logging.Level)

	ctx := context.Background()
	docs, err := openStore(ctx, cfg.Store)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer docs.Close()

	svc, err := buildServices(cfg, docs, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Web server mode
	if *serve {
		srv, err := server.New(server.Deps{
			Pipeline:  svc.pipeline,
			Editor:    svc.editor,
			Collector: svc.collector,
			Strategy:  svc.strategy,
			Images:    svc.archiver,
			Logger:    logger,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		listen := cfg.ServerAddr
		if *addr != "" {
			listen = *addr
		}
		if listen == "" {
			listen = ":8080"
		}
		log.Printf("Starting web server on %s", listen)
		if err := http.ListenAndServe(listen, srv.Routes()); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if *companyID == "" {
		fmt.Fprintln(os.Stderr, "--company is required (or use --serve)")
		os.Exit(1)
	}
	if *mock {
		// demo runs need a company context to start from
		if err := seedDemoCompany(ctx, docs, *companyID); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	log.Printf("[cli] generating company=%s count=%d provider=%s", *companyID, *count, cfg.LLM.Provider)
	posts, err := svc.pipeline.Run(ctx, *companyID, *count)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Printf("[cli] generated %d posts", len(posts))

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(posts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (backend, error) {
	switch cfg.Driver {
	case "bolt":
		b, err := store.OpenBolt(cfg.Path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "postgres":
		p, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("store driver %s not supported", cfg.Driver)
	}
}

func buildServices(cfg config.Config, docs backend, logger *slog.Logger) (*services, error) {
	llm, err := buildLLM(cfg, logger)
	if err != nil {
		return nil, err
	}
	callTimeout := time.Duration(cfg.Pipeline.CallTimeoutSeconds) * time.Second
	agent, err := generator.NewAgent(llm,
		generator.WithAgentLogger(logger),
		generator.WithModel(cfg.LLM.Model),
		generator.WithCallTimeout(callTimeout),
	)
	if err != nil {
		return nil, err
	}

	archiver, err := publisher.NewArchiver(docs, nil, logger.With("component", "archiver"))
	if err != nil {
		return nil, err
	}
	images, err := buildImages(cfg)
	if err != nil {
		return nil, err
	}
	trends, news := buildSignals(cfg, logger)

	conversations := generator.NewConversationStore(docs,
		generator.WithKeyLocks(),
		generator.WithConversationLogger(logger.With("component", "conversations")),
	)
	pipeline, err := generator.NewPipeline(agent, docs, images, trends, generator.PipelineConfig{
		ImageConcurrency: cfg.Pipeline.ImageConcurrency,
		CallTimeout:      callTimeout,
		Archive:          archiver,
	})
	if err != nil {
		return nil, err
	}
	editor, err := generator.NewEditor(agent, docs, images, conversations, callTimeout, generator.WithEditorArchive(archiver))
	if err != nil {
		return nil, err
	}
	collector, err := generator.NewCollector(agent, docs, images, archiver, conversations, callTimeout)
	if err != nil {
		return nil, err
	}
	strategy, err := generator.NewStrategyService(agent, docs, trends, news, callTimeout)
	if err != nil {
		return nil, err
	}
	return &services{pipeline: pipeline, editor: editor, collector: collector, strategy: strategy, archiver: archiver}, nil
}

func buildLLM(cfg config.Config, logger *slog.Logger) (generator.Invoker, error) {
	settings := &generator.LLMSettings{
		Provider:           cfg.LLM.Provider,
		Model:              cfg.LLM.Model,
		APIKey:             cfg.LLM.APIKey,
		BaseURL:            cfg.LLM.BaseURL,
		MaxToolRounds:      cfg.Pipeline.MaxToolRounds,
		CallTimeoutSeconds: cfg.Pipeline.CallTimeoutSeconds,
	}
	switch cfg.LLM.Provider {
	case "openai":
		return generator.NewOpenAIInvokerFromConfig(settings, logger)
	case "deepseek":
		// DeepSeek exposes an OpenAI-compatible API behind base_url.
		if cfg.LLM.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return generator.NewOpenAIInvokerFromConfig(settings, logger)
	case "mock":
		return &generator.MockInvoker{Respond: generator.DemoResponder}, nil
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
}

func buildImages(cfg config.Config) (generator.ImageGenerator, error) {
	if cfg.LLM.Provider == "mock" {
		return &generator.MockImages{URL: "https://placehold.co/1024x1024.png"}, nil
	}
	return publisher.NewOpenAIImagesFromConfig(publisher.ImageSettings{
		Model:              cfg.LLM.ImageModel,
		APIKey:             cfg.LLM.APIKey,
		BaseURL:            cfg.LLM.BaseURL,
		CallTimeoutSeconds: cfg.Pipeline.CallTimeoutSeconds,
	})
}

// buildSignals returns nil sources when nothing is configured; the generator
// then relies on its fallback lists.
func buildSignals(cfg config.Config, logger *slog.Logger) (generator.SignalSource, generator.SignalSource) {
	var trends, news generator.SignalSource
	if cfg.Signals.APIKey != "" && cfg.LLM.Provider != "mock" {
		chat, err := research.NewChatSignalsFromConfig(research.ChatSettings{
			APIKey:         cfg.Signals.APIKey,
			BaseURL:        cfg.Signals.BaseURL,
			Model:          cfg.Signals.Model,
			TimeoutSeconds: cfg.Pipeline.CallTimeoutSeconds,
		}, logger.With("component", "signals"))
		if err != nil {
			logger.Warn("trend signals disabled", "error", err)
		} else {
			trends, news = chat, chat
		}
	}
	if cfg.Signals.NewsURL != "" {
		news = research.NewHeadlineScraper(nil, cfg.Signals.NewsURL, cfg.Signals.NewsSelector, 5, logger.With("component", "headlines"))
	}
	return trends, news
}

func seedDemoCompany(ctx context.Context, docs generator.DocumentStore, companyID string) error {
	if _, ok, err := docs.GetDocument(ctx, store.CollectionCompanyContext, companyID); err != nil || ok {
		return err
	}
	if err := docs.UpsertDocument(ctx, store.CollectionCompanyContext, companyID, map[string]any{
		"context_description": "A neighbourhood pizza kitchen known for wood-fired classics and fast local delivery.",
	}); err != nil {
		return err
	}
	return docs.UpsertDocument(ctx, store.CollectionBrandHeroContext, companyID, map[string]any{
		"brand_hero_description": "A cheerful chef mascot in a red apron.",
	})
}
