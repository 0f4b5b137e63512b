package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/roxie-moxie/moxie-buildings-sub000/api"
	"github.com/roxie-moxie/moxie-buildings-sub000/config"
	"github.com/roxie-moxie/moxie-buildings-sub000/httputil"
	"github.com/roxie-moxie/moxie-buildings-sub000/llm"
	"github.com/roxie-moxie/moxie-buildings-sub000/logging"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/render"
	"github.com/roxie-moxie/moxie-buildings-sub000/scheduler"
	"github.com/roxie-moxie/moxie-buildings-sub000/scraper"
	"github.com/roxie-moxie/moxie-buildings-sub000/services"
	"github.com/roxie-moxie/moxie-buildings-sub000/sources"
	"github.com/roxie-moxie/moxie-buildings-sub000/storage"
	"github.com/roxie-moxie/moxie-buildings-sub000/tui"
	"github.com/roxie-moxie/moxie-buildings-sub000/workers"
)

var (
	scrapeNow = flag.Bool("scrape", false, "Run one batch and exit")
	dryRun    = flag.Bool("dry-run", false, "List the sources a batch would scrape and exit")
	syncOnly  = flag.Bool("sync", false, "Sync the source list and exit")
	sourceID  = flag.Int64("source", 0, "Source id for -print or -save")
	printOnly = flag.Bool("print", false, "With -source: scrape and print units without writing")
	save      = flag.Bool("save", false, "With -source: scrape and record the result")
	dashboard = flag.Bool("tui", false, "Open the terminal dashboard")
)

const (
	shutdownTimeout     = 30 * time.Second
	maintenanceInterval = time.Hour
	logRetention        = 14 * 24 * time.Hour
	staleAfter          = 48 * time.Hour
)

// domainStore is implemented by both PostgresStore and SQLiteStore.
type domainStore interface {
	scraper.SourceStore
	services.RunStore
	services.UnitStore
	ListSources(ctx context.Context) ([]models.Source, error)
	ListRuns(ctx context.Context, sourceID int64, limit int) ([]models.ScrapeRun, error)
}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if !*dashboard {
		logFile, err := logging.Setup(cfg.LogFile)
		if err != nil {
			log.Printf("Warning: could not set up file logging: %v", err)
		} else {
			defer logFile.Close()
		}
		log.Println("Starting moxie-buildings...")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Operational SQLite: commands queue and persisted log lines
	ops, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer ops.Close()

	domain, closeDomain, err := openDomain(ctx, cfg, ops)
	if err != nil {
		log.Fatalf("Failed to open domain store: %v", err)
	}
	defer closeDomain()

	if *dashboard {
		if err := tui.Run(ctx, domain, ops, cfg.LogFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	clients, err := httputil.NewClients(cfg.Scraper)
	if err != nil {
		log.Fatalf("Failed to build HTTP clients: %v", err)
	}
	if cfg.Scraper.ProxyURL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Scraper.ProxyURL))
	}

	renderer, err := render.New(cfg.Render.Backend, cfg.Render.Headless)
	if err != nil {
		log.Fatalf("Failed to create renderer: %v", err)
	}
	defer renderer.Close()

	deps := scraper.Deps{
		HTTP:         clients.Scraping,
		Renderer:     renderer,
		ContentLimit: cfg.LLM.MaxChars,
	}
	extractor, err := llm.NewClient(llm.Config{
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		HTTP:       clients.API,
		MaxRetries: llm.DefaultMaxRetries,
	})
	switch {
	case err == nil:
		deps.Extractor = extractor
	case errors.Is(err, llm.ErrNoAPIKey):
		log.Println("No ANTHROPIC_API_KEY, llm sources will fail with a configuration error")
	default:
		log.Fatalf("Failed to create extraction client: %v", err)
	}

	writer := services.NewResultWriter(domain, cfg.Scraper.ZeroThreshold, scraper.ErrorDetail)
	persist := logging.Persist(ops)
	writer.OnAttention(func(src models.Source, zeroRuns int) {
		id := src.ID
		persist(models.LogLevelWarn, &id, fmt.Sprintf("ATTENTION %s: %d consecutive runs with no units", src.Name, zeroRuns))
	})

	orchestrator := scraper.NewOrchestrator(cfg, domain, scraper.DefaultRegistry(deps), writer)
	orchestrator.SetLogFunc(persist)

	provider, err := sources.New(cfg.SourcesFile, clients.API)
	if err != nil {
		log.Printf("Warning: %v; batches will use the stored source list", err)
	} else {
		orchestrator.SetProvider(provider)
	}

	if cfg.S3.Bucket != "" {
		uploader, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKey,
			SecretAccessKey: cfg.S3.SecretKey,
			Prefix:          cfg.S3.Prefix,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 uploader: %v", err)
		}
		orchestrator.SetPublisher(uploader)
		log.Printf("Publishing batch status to s3://%s", cfg.S3.Bucket)
	}

	// Handle one-shot commands
	switch {
	case *sourceID != 0 && *printOnly:
		if err := printSource(ctx, orchestrator, *sourceID); err != nil {
			log.Fatalf("Preview failed: %v", err)
		}
		return
	case *sourceID != 0 && *save:
		outcome, err := orchestrator.RunSource(ctx, *sourceID)
		if err != nil {
			log.Fatalf("Run failed: %v", err)
		}
		log.Printf("%s: %s, %d units in %s", outcome.SourceName, outcome.Status, outcome.UnitCount, outcome.Duration.Round(time.Millisecond))
		return
	case *sourceID != 0:
		log.Fatal("-source needs -print or -save")
	case *syncOnly:
		stats, err := orchestrator.RefreshSources(ctx)
		if err != nil {
			log.Fatalf("Sync failed: %v", err)
		}
		log.Printf("Sync complete: %d added, %d updated, %d deactivated, %d strategies assigned",
			stats.Added, stats.Updated, stats.Deactivated, stats.Assigned)
		return
	case *scrapeNow || *dryRun:
		summary, err := orchestrator.RunBatch(ctx, scraper.BatchOptions{DryRun: *dryRun})
		if err != nil {
			log.Fatalf("Batch failed: %v", err)
		}
		if !*dryRun {
			log.Printf("Batch complete: %d ok, %d zero, %d failed, %d abandoned, %d units",
				summary.Successes, summary.ZeroResults, summary.Failures, summary.Abandoned, summary.TotalUnits)
		}
		return
	}

	// Daemon mode
	jobs := services.NewJobs(ctx, orchestrator)
	health := services.NewHealthService(domain)

	sched := scheduler.New(cfg, orchestrator, ops, jobs)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	maintenance := workers.NewMaintenanceWorker(ops, health, logRetention, staleAfter)
	maintenance.SetLogger(persist)
	go maintenance.Run(ctx, maintenanceInterval)
	log.Println("Maintenance worker started")

	server := api.NewServer(services.NewUnitService(domain), jobs, domain, health, ops)
	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("API listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API server error: %v", err)
			cancel()
		}
	}()

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API shutdown: %v", err)
	}
	sched.Stop()
	jobs.Wait()
	log.Println("Goodbye!")
}

// openDomain opens the unit store named by cfg.DatabaseURL. A SQLite path
// equal to the operational database reuses ops.
func openDomain(ctx context.Context, cfg *config.Config, ops *storage.SQLiteStore) (domainStore, func(), error) {
	if cfg.UsePostgres() {
		pg, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
		return pg, pg.Close, nil
	}

	if cfg.DatabaseURL == cfg.DBPath {
		log.Printf("SQLite database: %s", cfg.DBPath)
		return ops, func() {}, nil
	}
	lite, err := storage.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("SQLite databases: %s (units), %s (ops)", cfg.DatabaseURL, cfg.DBPath)
	return lite, func() { lite.Close() }, nil
}

// printSource scrapes one source and prints the normalized units. Nothing is
// written.
func printSource(ctx context.Context, o *scraper.Orchestrator, id int64) error {
	units, rejected, err := o.Preview(ctx, id)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(units))
	for _, u := range units {
		sqft := ""
		if u.SqFt != nil {
			sqft = humanize.Comma(int64(*u.SqFt))
		}
		bed := u.BedType
		if u.NonCanonical {
			bed += " *"
		}
		rows = append(rows, []string{
			u.UnitLabel,
			bed,
			"$" + humanize.Comma(u.RentCents/100),
			u.AvailabilityDate,
			deref(u.FloorPlanName),
			deref(u.Baths),
			sqft,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Unit", "Bed", "Rent", "Available", "Floor plan", "Baths", "SqFt").
		Rows(rows...)
	fmt.Println(t.Render())
	fmt.Printf("%d units", len(units))
	if len(rejected) > 0 {
		fmt.Printf(", %d records skipped", len(rejected))
	}
	fmt.Println()
	for _, err := range rejected {
		fmt.Println("  skipped: " + err.Error())
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// maskConnectionString masks the password in a connection string for logging
func maskConnectionString(connStr string) string {
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}
