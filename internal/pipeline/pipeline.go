// Package pipeline drives the two-phase analysis state machine. Triggers
// enqueue work and return immediately; completion and failure are observed
// only through persisted state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/extract"
	"github.com/loghawk/loghawk/internal/llm"
	"github.com/loghawk/loghawk/internal/merge"
	"github.com/loghawk/loghawk/internal/metrics"
	"github.com/loghawk/loghawk/internal/models"
	"github.com/loghawk/loghawk/internal/rules"
	"github.com/loghawk/loghawk/internal/storage"
)

// ErrConflict is returned when the upload is not in a state that allows
// starting a run (most commonly: already ANALYZING).
var ErrConflict = errors.New("analysis already in progress or not eligible")

// RateLimitedError is returned when the admission guard denies the trigger.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// StartOptions modify a trigger.
type StartOptions struct {
	Reanalyze bool
	Override  *models.ProviderOverride
}

type job struct {
	uploadID string
	override *models.ProviderOverride
	resume   bool
}

// Pipeline owns the worker pool executing analysis runs and the state
// transitions around them.
type Pipeline struct {
	store   *storage.Store
	content extract.ContentStore
	engine  *rules.Engine
	llm     *llm.Orchestrator
	guard   *Guard
	metrics *metrics.Metrics
	logger  *zap.Logger

	jobs chan job
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires the pipeline. Call Run to start the workers and Close to drain
// them.
func New(store *storage.Store, content extract.ContentStore, engine *rules.Engine, orch *llm.Orchestrator, guard *Guard, m *metrics.Metrics, logger *zap.Logger, workers int) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 2
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:   store,
		content: content,
		engine:  engine,
		llm:     orch,
		guard:   guard,
		metrics: m,
		logger:  logger.Named("pipeline"),
		jobs:    make(chan job, workers*8),
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Close stops accepting work and waits for in-flight runs to finish their
// current phase. The jobs channel is never closed: late enqueues from the
// overflow path must not race a close, so workers exit via the context
// instead. Queued but unstarted runs are picked up later by the recovery
// scheduler.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// Start triggers analysis of an upload on behalf of a user. It validates
// admission, performs the atomic PENDING/COMPLETED/FAILED -> ANALYZING
// transition, resets the analysis result and enqueues the run. It returns
// as soon as the run is queued.
func (p *Pipeline) Start(uploadID, userID string, opts StartOptions) (*storage.AnalysisResult, error) {
	if d := p.guard.Check(userID); !d.Allowed {
		p.metrics.AdmissionDenied.Inc()
		return nil, &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	ok, err := p.store.TryMarkAnalyzing(uploadID, opts.Reanalyze)
	if err != nil {
		return nil, fmt.Errorf("transition to analyzing: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}

	ar, err := p.store.EnsureAnalysisResult(uploadID, true)
	if err != nil {
		// Roll the upload back so the recovery scheduler does not chase a
		// run that never existed.
		_ = p.store.SetUploadStatus(uploadID, storage.StatusFailed)
		return nil, fmt.Errorf("prepare analysis result: %w", err)
	}

	p.metrics.AnalysesStarted.Inc()
	p.enqueue(job{uploadID: uploadID, override: opts.Override})
	return ar, nil
}

// Resume re-enters the state machine for an upload left in ANALYZING. The
// durable phase marker decides where execution restarts. Invoked by the
// recovery scheduler, never by request handlers.
func (p *Pipeline) Resume(uploadID string) error {
	u, err := p.store.GetUpload(uploadID)
	if err != nil {
		return err
	}
	if u.Status != storage.StatusAnalyzing {
		return nil // finished or failed in the meantime
	}
	if _, err := p.store.EnsureAnalysisResult(uploadID, false); err != nil {
		return fmt.Errorf("load analysis result: %w", err)
	}
	// Touch so back-to-back sweeps do not double-enqueue the same stall.
	if err := p.store.TouchUpload(uploadID); err != nil {
		return err
	}
	p.metrics.AnalysesResumed.Inc()
	p.enqueue(job{uploadID: uploadID, resume: true})
	return nil
}

func (p *Pipeline) enqueue(j job) {
	select {
	case p.jobs <- j:
	default:
		// Queue full: hand off without blocking the caller.
		go func() {
			select {
			case p.jobs <- j:
			case <-p.ctx.Done():
			}
		}()
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			p.run(j)
		}
	}
}

// run executes the phases of one analysis. Any unrecoverable error marks
// the upload FAILED with the sanitized cause.
func (p *Pipeline) run(j job) {
	log := p.logger.With(zap.String("upload_id", j.uploadID))

	u, err := p.store.GetUpload(j.uploadID)
	if err != nil {
		log.Error("load upload", zap.Error(err))
		return
	}
	ar, err := p.store.GetAnalysisResult(j.uploadID)
	if err != nil {
		log.Error("load analysis result", zap.Error(err))
		return
	}

	lines, err := p.content.Lines(u.ID, u.FileName)
	if err != nil {
		p.fail(ar, u, fmt.Sprintf("could not read upload content: %v", err), log)
		return
	}

	if !ar.RuleBasedCompleted {
		if j.resume {
			// Rule findings are deterministic; drop the interrupted run's
			// partial output and regenerate instead of merging with it.
			if err := p.store.DeleteFindingsBySource(ar.ID, models.SourceRuleBased); err != nil {
				p.fail(ar, u, "could not reset interrupted rule phase", log)
				return
			}
		}
		if err := p.runRulePhase(ar, u, lines, log); err != nil {
			p.fail(ar, u, err.Error(), log)
			return
		}
	}

	if err := p.runLLMPhase(ar, u, lines, j.override, log); err != nil {
		p.fail(ar, u, err.Error(), log)
		return
	}

	if err := p.store.CompleteAnalysis(ar.ID, u.ID); err != nil {
		log.Error("mark completed", zap.Error(err))
		return
	}
	p.metrics.AnalysesCompleted.Inc()
	log.Info("analysis completed")
}

func (p *Pipeline) runRulePhase(ar *storage.AnalysisResult, u *storage.Upload, lines []models.LogLine, log *zap.Logger) error {
	findings := merge.Assign(p.engine.Analyze(lines))
	if err := p.store.SaveFindings(ar.ID, findings); err != nil {
		return fmt.Errorf("persist rule findings: %w", err)
	}
	if err := p.store.MarkRulePhaseCompleted(ar.ID); err != nil {
		return fmt.Errorf("mark rule phase completed: %w", err)
	}
	ar.RuleBasedCompleted = true
	_ = p.store.TouchUpload(u.ID)
	p.metrics.RuleFindings.Add(float64(len(findings)))
	log.Info("rule phase completed", zap.Int("findings", len(findings)))
	return nil
}

func (p *Pipeline) runLLMPhase(ar *storage.AnalysisResult, u *storage.Upload, lines []models.LogLine, override *models.ProviderOverride, log *zap.Logger) error {
	res, err := p.llm.Analyze(p.ctx, u.UserID, lines, override)
	if err != nil {
		var perr *llm.ProviderError
		if errors.As(err, &perr) {
			return fmt.Errorf("llm provider unusable: %s", perr.Message())
		}
		return fmt.Errorf("llm phase: %w", err)
	}
	p.metrics.LLMChunkFailures.Add(float64(len(res.ChunkFailures)))
	if len(res.ChunkFailures) > 0 {
		// Partial coverage degrades the result but never fails the run.
		log.Warn("llm coverage degraded",
			zap.Int("failed_chunks", len(res.ChunkFailures)),
			zap.Int("total_chunks", res.TotalChunks))
	}

	persisted, err := p.store.ExistingFingerprints(ar.ID)
	if err != nil {
		return fmt.Errorf("load fingerprints: %w", err)
	}
	merged := merge.Merge(nil, res.Findings, persisted)
	if err := p.store.SaveFindings(ar.ID, merged); err != nil {
		return fmt.Errorf("persist llm findings: %w", err)
	}
	p.metrics.LLMFindings.Add(float64(len(merged)))
	log.Info("llm phase completed",
		zap.Int("candidate_findings", len(res.Findings)),
		zap.Int("persisted_findings", len(merged)))
	return nil
}

func (p *Pipeline) fail(ar *storage.AnalysisResult, u *storage.Upload, message string, log *zap.Logger) {
	if err := p.store.FailAnalysis(ar.ID, u.ID, message); err != nil {
		log.Error("mark failed", zap.Error(err))
	}
	p.metrics.AnalysesFailed.Inc()
	log.Error("analysis failed", zap.String("reason", message))
}
