// Copyright 2025 Noctiluca Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/noctiluca/reverie"
	"github.com/noctiluca/reverie/ai"
	"github.com/noctiluca/reverie/catalog"
	"github.com/noctiluca/reverie/core"
	"github.com/noctiluca/reverie/narrative"
	"github.com/noctiluca/reverie/queue"
	"github.com/noctiluca/reverie/search"
	"github.com/noctiluca/reverie/storage"
	"github.com/noctiluca/reverie/themes"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "reverie",
		Usage: "Dream narrative embedding and retrieval pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "worker",
				Usage:  "Run the embedding worker until interrupted",
				Action: workerCommand,
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:     "narratives",
						Usage:    "Directory of narrative text files, one <id>.txt per narrative",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of concurrent job processors (0 = CPU-based default)",
					},
					&cli.DurationFlag{
						Name:  "poll-interval",
						Usage: "How often an idle worker looks for due jobs",
						Value: 5 * time.Second,
					},
				),
			},
			{
				Name:   "enqueue",
				Usage:  "Queue a narrative for embedding",
				Action: enqueueCommand,
				Flags: append(databaseFlags(),
					&cli.Uint64Flag{
						Name:     "narrative",
						Aliases:  []string{"n"},
						Usage:    "Narrative ID to enqueue",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "priority",
						Usage: "Job priority; higher runs first",
					},
				),
			},
			{
				Name:   "status",
				Usage:  "Show queue counts, or one narrative's status with --narrative",
				Action: statusCommand,
				Flags: append(databaseFlags(),
					&cli.Uint64Flag{
						Name:    "narrative",
						Aliases: []string{"n"},
						Usage:   "Narrative ID to inspect",
					},
				),
			},
			{
				Name:   "requeue",
				Usage:  "Reset a terminal job so the worker runs it again",
				Action: requeueCommand,
				Flags: append(databaseFlags(),
					&cli.Uint64Flag{
						Name:     "narrative",
						Aliases:  []string{"n"},
						Usage:    "Narrative ID to requeue",
						Required: true,
					},
				),
			},
			{
				Name:   "themes",
				Usage:  "Show a narrative's theme links",
				Action: themesCommand,
				Flags: append(databaseFlags(),
					&cli.Uint64Flag{
						Name:     "narrative",
						Aliases:  []string{"n"},
						Usage:    "Narrative ID to inspect",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  "min-similarity",
						Usage: "Hide links below this similarity",
					},
				),
			},
			{
				Name:   "retrieve",
				Usage:  "Run a hybrid retrieval query against the fragment catalog",
				Action: retrieveCommand,
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:     "query",
						Aliases:  []string{"q"},
						Usage:    "Query text",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of results",
						Value: search.DefaultK,
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Restrict results to one fragment source",
					},
					&cli.StringFlag{
						Name:  "chapter",
						Usage: "Restrict results to one chapter",
					},
					&cli.StringSliceFlag{
						Name:  "theme",
						Usage: "Theme hint; fragments tagged with it score higher",
					},
					&cli.StringSliceFlag{
						Name:  "concept",
						Usage: "Concept hint; fragments tagged with it score higher",
					},
				),
			},
			{
				Name:   "seed-themes",
				Usage:  "Load and embed the theme catalog from a JSON seed file",
				Action: seedThemesCommand,
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the theme seed JSON file",
						Required: true,
					},
				),
			},
			{
				Name:   "seed-fragments",
				Usage:  "Load and embed reference fragments from a JSON seed file",
				Action: seedFragmentsCommand,
				Flags: append(databaseFlags(),
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Path to the fragment seed JSON file",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of fragments to embed per provider call",
						Value: 32,
					},
				),
			},
			{
				Name:   "reembed-catalog",
				Usage:  "Re-embed stored themes and fragments with the current model",
				Action: reembedCatalogCommand,
				Flags:  databaseFlags(),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// databaseFlags are shared by every command that opens the database.
func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "db",
			Aliases:  []string{"d"},
			Usage:    "Path to BadgerDB database directory",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "embedding-host",
			Usage: "Embedding service host URL",
			Value: "http://localhost:11434/v1",
		},
		&cli.StringFlag{
			Name:  "embedding-model",
			Usage: "Embedding model name",
			Value: "embeddinggemma",
		},
		&cli.IntFlag{
			Name:  "dimension",
			Usage: "Expected embedding vector length",
			Value: 1024,
		},
	}
}

func openDatabase(c *cli.Context, extra ...reverie.DatabaseOption) (*reverie.Database, error) {
	aiConfig := ai.NewConfig(
		ai.WithHost(c.String("embedding-host")),
		ai.WithModel(c.String("embedding-model")),
		ai.WithDimension(c.Int("dimension")),
	)

	opts := append([]reverie.DatabaseOption{reverie.WithAIConfig(aiConfig)}, extra...)
	db, err := reverie.NewDatabase(c.String("db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func workerCommand(c *cli.Context) error {
	queueConfig := queue.DefaultConfig()
	if workers := c.Int("workers"); workers > 0 {
		queueConfig.Workers = workers
		queueConfig.BatchSize = workers
	}
	queueConfig.PollInterval = c.Duration("poll-interval")

	db, err := openDatabase(c, reverie.WithQueueConfig(queueConfig))
	if err != nil {
		return err
	}
	defer db.Close()

	source, err := narrative.NewDirSource(c.String("narratives"))
	if err != nil {
		return err
	}

	worker, err := db.NewWorker(source)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker started", "db", c.String("db"), "narratives", c.String("narratives"))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("worker stopped")
	return nil
}

func enqueueCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	manager, err := db.NewQueueManager()
	if err != nil {
		return err
	}

	narrativeID := core.ID(c.Uint64("narrative"))
	job, created, err := manager.Enqueue(context.Background(), narrativeID, c.Int("priority"))
	if err != nil {
		return fmt.Errorf("failed to enqueue narrative %d: %w", narrativeID, err)
	}

	if created {
		fmt.Printf("queued narrative %d as job %d\n", narrativeID, job.Id)
	} else {
		fmt.Printf("narrative %d already has job %d (%s)\n", narrativeID, job.Id, job.Status)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	manager, err := db.NewQueueManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	if narrativeID := core.ID(c.Uint64("narrative")); narrativeID != 0 {
		status, err := manager.NarrativeStatus(ctx, narrativeID)
		if err != nil {
			return err
		}
		fmt.Printf("narrative %d: %s (attempts %d)\n", status.NarrativeId, status.Status, status.Attempts)
		if status.LastError != "" {
			fmt.Printf("  last error: %s\n", status.LastError)
		}
		if !status.ProcessedAt.IsZero() {
			fmt.Printf("  processed at: %s\n", status.ProcessedAt.Format(time.RFC3339))
		}
		return nil
	}

	status, err := manager.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("workers:    %d\n", status.Workers)
	fmt.Printf("pending:    %d\n", status.Pending)
	fmt.Printf("processing: %d\n", status.Processing)
	fmt.Printf("completed:  %d\n", status.Completed)
	fmt.Printf("failed:     %d\n", status.Failed)
	fmt.Printf("skipped:    %d\n", status.Skipped)
	return nil
}

func requeueCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	manager, err := db.NewQueueManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	narrativeID := core.ID(c.Uint64("narrative"))
	job, err := manager.JobForNarrative(ctx, narrativeID)
	if err != nil {
		return err
	}
	if err := manager.Requeue(ctx, job.Id); err != nil {
		return fmt.Errorf("failed to requeue narrative %d: %w", narrativeID, err)
	}

	fmt.Printf("requeued narrative %d (job %d)\n", narrativeID, job.Id)
	return nil
}

func themesCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	extractor, err := db.NewThemeExtractor()
	if err != nil {
		return err
	}

	narrativeID := core.ID(c.Uint64("narrative"))
	scores, err := extractor.Scores(context.Background(), narrativeID, float32(c.Float64("min-similarity")))
	if err != nil {
		return err
	}

	if len(scores) == 0 {
		fmt.Printf("narrative %d has no theme links\n", narrativeID)
		return nil
	}
	for _, score := range scores {
		fmt.Printf("%-20s %.4f\n", score.ThemeCode, score.Similarity)
	}
	return nil
}

func retrieveCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	retriever, err := db.NewRetriever()
	if err != nil {
		return err
	}
	ctx := context.Background()

	queryText := c.String("query")
	vector, err := db.Embedder().EmbedText(ctx, queryText)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}

	query := &search.Query{
		Vector:       core.NormalizeVector(vector),
		Text:         queryText,
		ThemeHints:   c.StringSlice("theme"),
		ConceptHints: c.StringSlice("concept"),
		K:            c.Int("k"),
	}
	if source, chapter := c.String("source"), c.String("chapter"); source != "" || chapter != "" {
		query.Filter = &storage.FragmentFilter{Source: source, Chapter: chapter}
	}

	results, err := retriever.Retrieve(ctx, query)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	for i, result := range results {
		fmt.Printf("%2d. [%.4f] (sem %.4f, sparse %.4f, lex %.4f) %s\n",
			i+1, result.Score, result.Semantic, result.Sparse, result.Lexical,
			firstLine(result.Fragment.Text))
	}
	if len(results) == 0 {
		fmt.Println("no results")
	}
	return nil
}

func seedThemesCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	seeds, err := themes.LoadSeedFile(c.String("file"))
	if err != nil {
		return err
	}

	cat, err := db.NewThemeCatalog()
	if err != nil {
		return err
	}
	if err := cat.Ingest(context.Background(), seeds...); err != nil {
		return fmt.Errorf("failed to seed themes: %w", err)
	}

	fmt.Printf("seeded %d themes (version %s)\n", len(seeds), db.EmbeddingVersion())
	return nil
}

func seedFragmentsCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	seeds, err := catalog.LoadSeedFile(c.String("file"))
	if err != nil {
		return err
	}

	ingestor, err := db.NewFragmentIngestor(c.Int("batch-size"))
	if err != nil {
		return err
	}
	if err := ingestor.Ingest(context.Background(), seeds...); err != nil {
		return fmt.Errorf("failed to seed fragments: %w", err)
	}

	fmt.Printf("seeded %d fragments (version %s)\n", len(seeds), db.EmbeddingVersion())
	return nil
}

func reembedCatalogCommand(c *cli.Context) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := db.NewReembedRunner(os.Stderr)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Database: %s\n", c.String("db"))
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", c.String("embedding-host"))
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", c.String("embedding-model"))
	fmt.Fprintln(os.Stderr)

	summary, err := runner.Run(context.Background())
	if err != nil {
		return fmt.Errorf("re-embedding failed: %w", err)
	}

	fmt.Printf("re-embedded %d themes and %d fragments (version %s)\n",
		summary.Themes, summary.Fragments, db.EmbeddingVersion())
	return nil
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if len(text) > 100 {
		text = text[:100] + "..."
	}
	return text
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
