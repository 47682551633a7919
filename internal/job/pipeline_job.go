package job

import (
	"context"
	"errors"
	"log"
	"time"

	"coinfeed/internal/domain"
	"coinfeed/internal/service"

	"go.opentelemetry.io/otel/trace"
)

// PipelineRunner starts one ingestion run.
type PipelineRunner interface {
	Run(ctx context.Context) (domain.RunSummary, error)
}

// PipelineJob fires one pipeline run per UTC day at the configured
// hour. A run already in flight at the trigger moment is skipped, not
// queued; the day still counts as served.
type PipelineJob struct {
	tracer       trace.Tracer
	runner       PipelineRunner
	runHourUTC   int
	pollInterval time.Duration
	now          func() time.Time

	lastRunDay string
}

func NewPipelineJob(tracer trace.Tracer, runner PipelineRunner, runHourUTC int) *PipelineJob {
	if runHourUTC < 0 || runHourUTC > 23 {
		runHourUTC = 0
	}
	return &PipelineJob{
		tracer:       tracer,
		runner:       runner,
		runHourUTC:   runHourUTC,
		pollInterval: time.Minute,
		now:          time.Now,
	}
}

func (j *PipelineJob) Start(ctx context.Context) {
	if j.runner == nil {
		log.Println("Pipeline job disabled: no runner")
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(j.pollInterval)
	defer ticker.Stop()

	j.maybeRun(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.maybeRun(ctx)
		}
	}
}

func (j *PipelineJob) maybeRun(ctx context.Context) {
	now := j.now().UTC()
	if now.Hour() != j.runHourUTC {
		return
	}
	today := now.Format("2006-01-02")
	if j.lastRunDay == today {
		return
	}
	j.lastRunDay = today
	j.runOnce(ctx)
}

func (j *PipelineJob) runOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "pipeline-job.run-once")
	defer span.End()

	summary, err := j.runner.Run(ctx)
	if errors.Is(err, service.ErrAlreadyRunning) {
		log.Println("Scheduled pipeline run skipped: already running")
		return
	}
	if err != nil {
		log.Printf("Scheduled pipeline run error: %v", err)
		return
	}
	log.Printf(
		"Scheduled pipeline run complete pairs=%d added=%d failed=%d elapsed=%dms",
		summary.PairsPrepared,
		summary.CandlesAdded,
		summary.Failed,
		summary.ElapsedMs,
	)
}
