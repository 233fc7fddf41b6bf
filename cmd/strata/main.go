// Binary strata is a command-line driver for the strata knowledge-base core:
// ingest documents into collections, query them with hybrid retrieval, and
// maintain per-subject concept graphs.
//
// Usage:
//
//	strata ingest  -c <collection> <file>...
//	strata query   -c <collection> [-k n] <query>
//	strata sources -c <collection>
//	strata delete  -c <collection> <source-id>
//	strata clear   -c <collection>
//	strata graph expand  -s <subject> <source-id>...
//	strata graph rebuild -s <subject>
//	strata graph links   -s <subject> <source-file>...
//
// Configuration is read from strata.toml (override with STRATA_CONFIG).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mirvand/strata"
	"github.com/mirvand/strata/graph"
	"github.com/mirvand/strata/ingest"
	"github.com/mirvand/strata/internal/config"
	"github.com/mirvand/strata/observer"
	"github.com/mirvand/strata/provider/openaicompat"
	"github.com/mirvand/strata/store/jsonfile"
	"github.com/mirvand/strata/store/postgres"
	"github.com/mirvand/strata/store/sqlite"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx := context.Background()
	app, shutdown, err := newApp(ctx)
	if err != nil {
		fatal(err)
	}
	defer shutdown(ctx)

	switch os.Args[1] {
	case "ingest":
		err = app.cmdIngest(ctx, os.Args[2:])
	case "query":
		err = app.cmdQuery(ctx, os.Args[2:])
	case "sources":
		err = app.cmdSources(ctx, os.Args[2:])
	case "delete":
		err = app.cmdDelete(ctx, os.Args[2:])
	case "clear":
		err = app.cmdClear(ctx, os.Args[2:])
	case "graph":
		err = app.cmdGraph(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: strata <command> [flags] [args]

commands:
  ingest   -c <collection> <file>...       extract, chunk, and store documents
  query    -c <collection> [-k n] <query>  hybrid retrieval with parent context
  sources  -c <collection>                 list ingested sources
  delete   -c <collection> <source-id>     remove one source's chunks
  clear    -c <collection>                 empty a collection
  graph    expand|rebuild|links            maintain the subject's concept graph`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "strata:", err)
	os.Exit(1)
}

// app holds the wired core components shared by all subcommands.
type app struct {
	cfg     config.Config
	lib     *strata.Library
	ing     *ingest.Ingestor
	builder *graph.Builder
	embed   strata.Embedder
	llm     strata.LLM
	logger  *slog.Logger
}

// backend is the intersection of the store interfaces every engine provides.
type backend interface {
	strata.ChunkStore
	strata.ParentStore
	strata.GraphStore
}

func newApp(ctx context.Context) (*app, func(context.Context) error, error) {
	// 1. Load config
	cfg := config.Load(os.Getenv("STRATA_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	if os.Getenv("STRATA_DEBUG") != "" {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	shutdown := func(context.Context) error { return nil }

	// 2. Create gateways
	llmBase := cfg.LLM.BaseURL
	if llmBase == "" {
		llmBase = openaicompat.BaseURL(cfg.LLM.Provider)
	}
	if llmBase == "" {
		return nil, nil, fmt.Errorf("unknown llm provider %q and no base_url configured", cfg.LLM.Provider)
	}
	embBase := cfg.Embedding.BaseURL
	if embBase == "" {
		embBase = openaicompat.BaseURL(cfg.Embedding.Provider)
	}
	if embBase == "" {
		return nil, nil, fmt.Errorf("unknown embedding provider %q and no base_url configured", cfg.Embedding.Provider)
	}

	var llm strata.LLM = openaicompat.NewClient(cfg.LLM.APIKey, cfg.LLM.Model, llmBase,
		openaicompat.WithName(cfg.LLM.Provider))
	var embed strata.Embedder = openaicompat.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, embBase,
		openaicompat.WithEmbeddingName(cfg.Embedding.Provider))

	// 3. Observability (opt-in)
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, stop, err := observer.Init(ctx, pricing)
		if err != nil {
			return nil, nil, fmt.Errorf("observer init: %w", err)
		}
		shutdown = stop
		llm = observer.WrapLLM(llm, cfg.LLM.Provider, cfg.LLM.Model, inst)
		embed = observer.WrapEmbedder(embed, cfg.Embedding.Provider, cfg.Embedding.Model, inst)
	}

	// 4. Open the storage backend
	store, err := openBackend(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	// 5. Wire the core
	libOpts := []strata.LibraryOption{strata.WithLogger(logger)}
	if cfg.Chunking.Strategy == "flat" {
		libOpts = append(libOpts, strata.WithFlatRetrieval())
	}
	lib := strata.NewLibrary(store, store, strata.NewRegistry(), libOpts...)

	ingOpts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithChunkerOptions(
			ingest.WithMinChunk(cfg.Chunking.MinChunk),
			ingest.WithMaxChunk(cfg.Chunking.MaxChunk),
			ingest.WithBufferSize(cfg.Chunking.BufferSize),
			ingest.WithBreakpointPercentile(cfg.Chunking.BreakpointPercentile),
			ingest.WithChildSize(cfg.Chunking.ChildSize),
			ingest.WithChildOverlap(cfg.Chunking.ChildOverlap),
		),
	}
	if cfg.Chunking.Strategy == "flat" {
		ingOpts = append(ingOpts, ingest.WithStrategy(ingest.StrategyFlat))
	}
	ing := ingest.New(lib, embed, ingOpts...)

	builder := graph.NewBuilder(store, store,
		graph.WithLogger(logger),
		graph.WithBatchSize(cfg.Graph.BatchSize))

	return &app{
		cfg:     cfg,
		lib:     lib,
		ing:     ing,
		builder: builder,
		embed:   embed,
		llm:     llm,
		logger:  logger,
	}, shutdown, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (backend, error) {
	switch cfg.Engine {
	case "jsonfile", "":
		return jsonfile.New(cfg.Dir, jsonfile.WithLogger(logger))
	case "sqlite":
		s := sqlite.New(cfg.Path, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		return s, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}

func (a *app) cmdIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	collection := fs.String("c", "", "collection name (required)")
	tag := fs.String("tag", strata.TagMaterial, "source classification tag")
	fs.Parse(args)
	if *collection == "" || fs.NArg() == 0 {
		return fmt.Errorf("ingest: -c <collection> and at least one file required")
	}

	// The tag is fixed per Ingestor; build a dedicated one for non-default tags.
	ing := a.ing
	if *tag != strata.TagMaterial {
		ing = a.newIngestor(*tag)
	}

	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		res, err := ing.IngestFile(ctx, *collection, data, path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d parents, %d children\n", res.SourceID, res.Parents, res.Children)
	}
	return nil
}

// newIngestor builds an Ingestor configured like the default one but with a
// different source tag.
func (a *app) newIngestor(tag string) *ingest.Ingestor {
	return ingest.New(a.lib, a.embed,
		ingest.WithLogger(a.logger),
		ingest.WithTag(tag),
		ingest.WithChunkerOptions(
			ingest.WithMinChunk(a.cfg.Chunking.MinChunk),
			ingest.WithMaxChunk(a.cfg.Chunking.MaxChunk),
			ingest.WithBufferSize(a.cfg.Chunking.BufferSize),
			ingest.WithBreakpointPercentile(a.cfg.Chunking.BreakpointPercentile),
			ingest.WithChildSize(a.cfg.Chunking.ChildSize),
			ingest.WithChildOverlap(a.cfg.Chunking.ChildOverlap),
		))
}

func (a *app) cmdQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	collection := fs.String("c", "", "collection name (required)")
	k := fs.Int("k", a.cfg.Retrieval.TopK, "number of results")
	fs.Parse(args)
	if *collection == "" || fs.NArg() == 0 {
		return fmt.Errorf("query: -c <collection> and a query string required")
	}
	query := strings.Join(fs.Args(), " ")

	ret, err := a.lib.RetrieverWithParents(ctx, *collection, a.embed, *k)
	if err != nil {
		return err
	}
	results, err := ret.Retrieve(ctx, query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range results {
		origin := "chunk"
		if r.ResolvedFromChild {
			origin = "parent"
		}
		fmt.Printf("--- %d. [%s] %s (score %.4f, %s)\n%s\n",
			i+1, origin, r.Chunk.Meta.SourceID, r.Score, r.Chunk.Meta.Heading, r.Chunk.Content)
	}
	return nil
}

func (a *app) cmdSources(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sources", flag.ExitOnError)
	collection := fs.String("c", "", "collection name (required)")
	fs.Parse(args)
	if *collection == "" {
		return fmt.Errorf("sources: -c <collection> required")
	}

	chunks, err := a.lib.GetAll(ctx, *collection, nil)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	var order []string
	for _, c := range chunks {
		if counts[c.Meta.SourceID] == 0 {
			order = append(order, c.Meta.SourceID)
		}
		counts[c.Meta.SourceID]++
	}
	for _, src := range order {
		fmt.Printf("%s\t%d chunks\n", src, counts[src])
	}
	return nil
}

func (a *app) cmdDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	collection := fs.String("c", "", "collection name (required)")
	fs.Parse(args)
	if *collection == "" || fs.NArg() != 1 {
		return fmt.Errorf("delete: -c <collection> and one source-id required")
	}
	return a.lib.DeleteBySource(ctx, *collection, fs.Arg(0))
}

func (a *app) cmdClear(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	collection := fs.String("c", "", "collection name (required)")
	fs.Parse(args)
	if *collection == "" {
		return fmt.Errorf("clear: -c <collection> required")
	}
	return a.lib.Clear(ctx, *collection)
}

func (a *app) cmdGraph(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("graph: expand, rebuild, or links required")
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("graph "+sub, flag.ExitOnError)
	subject := fs.String("s", "", "subject (collection) name (required)")
	fs.Parse(rest)
	if *subject == "" {
		return fmt.Errorf("graph %s: -s <subject> required", sub)
	}

	switch sub {
	case "expand":
		if fs.NArg() == 0 {
			return fmt.Errorf("graph expand: at least one source-id required")
		}
		res, err := a.builder.Expand(ctx, *subject, fs.Args(), a.llm)
		if err != nil {
			return err
		}
		printGraphResult(res)
	case "rebuild":
		res, err := a.builder.Rebuild(ctx, *subject, a.llm)
		if err != nil {
			return err
		}
		printGraphResult(res)
	case "links":
		if fs.NArg() == 0 {
			return fmt.Errorf("graph links: at least one source-file required")
		}
		files, err := a.builder.LinkedSourceFiles(ctx, *subject, fs.Args())
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
	default:
		return fmt.Errorf("graph: unknown subcommand %q", sub)
	}
	return nil
}

func printGraphResult(res graph.Result) {
	fmt.Printf("graph: %d nodes, %d edges (%d batches, %d failed, %d bridged)\n",
		len(res.Graph.Nodes), len(res.Graph.Edges), res.Batches, len(res.Failed), res.Bridged)
	for _, f := range res.Failed {
		fmt.Printf("  batch %d failed: %s\n", f.Batch, f.Reason)
	}
	if res.Consolidated {
		fmt.Println("  node cap exceeded, graph consolidated")
	}
}
