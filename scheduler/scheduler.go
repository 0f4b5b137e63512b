package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/roxie-moxie/moxie-buildings-sub000/config"
	"github.com/roxie-moxie/moxie-buildings-sub000/models"
	"github.com/roxie-moxie/moxie-buildings-sub000/scraper"
)

// Batcher runs batches and applies control commands.
type Batcher interface {
	RunBatch(ctx context.Context, opts scraper.BatchOptions) (*models.BatchSummary, error)
	HandleCommand(ctx context.Context, cmd *models.Command) error
}

type CommandStore interface {
	GetPendingCommands(ctx context.Context) ([]models.Command, error)
	MarkCommandProcessed(ctx context.Context, id int64) error
}

// JobStarter queues a single-source run on the run-now path.
type JobStarter interface {
	Start(sourceID int64) (models.Job, error)
}

type Scheduler struct {
	cfg      *config.Config
	batcher  Batcher
	commands CommandStore
	jobs     JobStarter
	cron     *cron.Cron

	running  atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg *config.Config, batcher Batcher, commands CommandStore, jobs JobStarter) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		batcher:  batcher,
		commands: commands,
		jobs:     jobs,
		cron:     cron.New(),
		stopCh:   make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.wg.Add(1)
	go s.pollCommands(ctx)

	if s.cfg.Scheduler.Cron == "" {
		log.Println("No schedule configured, daemon will only respond to commands")
		return nil
	}

	log.Printf("Starting scheduler with cron: %s", s.cfg.Scheduler.Cron)
	_, err := s.cron.AddFunc(s.cfg.Scheduler.Cron, func() {
		if err := s.TriggerNow(ctx); err != nil {
			log.Printf("Scheduled run error: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron trigger and command polling and waits for a running
// batch to return.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		close(s.stopCh)
	})
	s.wg.Wait()
}

// TriggerNow runs one batch unless another is already in progress.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		log.Println("Batch already running, skipping trigger")
		return nil
	}
	defer s.running.Store(false)

	summary, err := s.batcher.RunBatch(ctx, scraper.BatchOptions{})
	if err != nil {
		return err
	}
	log.Printf("Batch finished: %d sources, %d ok, %d zero, %d failed, %d units in %s",
		summary.Sources, summary.Successes, summary.ZeroResults, summary.Failures, summary.TotalUnits,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))
	return nil
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	defer s.wg.Done()

	interval := s.cfg.Scheduler.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.commands.GetPendingCommands(ctx)
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("Processing command: %s", cmd.Command)
		// Marked first so a long batch is not picked up again by the next tick.
		if err := s.commands.MarkCommandProcessed(ctx, cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
			continue
		}
		if err := s.handleCommand(ctx, &cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdScrapeNow:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.TriggerNow(ctx); err != nil {
				log.Printf("Manual batch error: %v", err)
			}
		}()
		return nil
	case models.CmdScrapeSource:
		if s.jobs == nil {
			return s.batcher.HandleCommand(ctx, cmd)
		}
		var params models.CommandParams
		if len(cmd.Params) > 0 {
			if err := json.Unmarshal(cmd.Params, &params); err != nil {
				return fmt.Errorf("command %d: bad params: %w", cmd.ID, err)
			}
		}
		if params.SourceID == 0 {
			return fmt.Errorf("command %d: scrape_source needs source_id", cmd.ID)
		}
		job, err := s.jobs.Start(params.SourceID)
		if err != nil {
			return fmt.Errorf("source %d: %w (job %s)", params.SourceID, err, job.ID)
		}
		log.Printf("Queued job %s for source %d", job.ID, params.SourceID)
		return nil
	default:
		return s.batcher.HandleCommand(ctx, cmd)
	}
}
