// Package tailer walks a bookmark update log one entry at a time with a
// persisted checkpoint. The sync job uses it to replay a source repo into
// its target; the validator uses it to check the large repo.
//
// The checkpoint is a mutable counter holding the id of the last entry
// that was fully processed. It advances only after an entry completes, so
// a restart resumes at the first entry that did not. The sync job's
// counter lives on the target repo and is named
// xreposync_from_<source repo id>.
package tailer

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/metrics"
	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/syncer"
)

// Defaults for Config fields left zero.
const (
	DefaultBatchSize = 10
	DefaultSleep     = 10 * time.Second
)

// CounterName is the sync job's checkpoint counter for syncing from
// source.
func CounterName(source model.RepositoryID) string {
	return "xreposync_from_" + source.String()
}

// Config controls how the log is tailed.
type Config struct {
	// BatchSize is the number of entries read per query.
	BatchSize int

	// Sleep is the pause between polls once the log is exhausted.
	Sleep time.Duration

	// CatchUpOnce makes Run return once the log is exhausted instead of
	// polling for new entries.
	CatchUpOnce bool

	// BookmarkRegex, if set, restricts syncing to matching source
	// bookmarks. Other entries are skipped but still advance the
	// checkpoint.
	BookmarkRegex *regexp.Regexp
}

// EntryResult is what a Processor reports for one completed entry.
type EntryResult struct {
	// Outcome is the metrics result label, such as metrics.ResultSynced.
	Outcome string

	// TargetBookmark is the bookmark written in the target, if any.
	TargetBookmark model.BookmarkKey

	// Direct and Pushrebased count the commits written by each strategy.
	Direct      int
	Pushrebased int
}

// Processor handles one bookmark update log entry.
type Processor interface {
	ProcessEntry(ctx context.Context, entry model.BookmarkUpdateLogEntry) (EntryResult, error)
}

// SyncProcessor replays entries through a Syncer.
type SyncProcessor struct {
	Syncer *syncer.Syncer
}

// ProcessEntry implements Processor.
func (p SyncProcessor) ProcessEntry(ctx context.Context, entry model.BookmarkUpdateLogEntry) (EntryResult, error) {
	res, err := p.Syncer.SyncSingleBookmarkUpdateLogEntry(ctx, entry)
	if err != nil {
		return EntryResult{}, err
	}
	out := EntryResult{
		Outcome:        metrics.ResultSynced,
		TargetBookmark: res.TargetBookmark,
		Direct:         res.Direct,
		Pushrebased:    res.Pushrebased,
	}
	if res.Kind == syncer.SkippedNoKnownVersion {
		out.Outcome = metrics.ResultSkipped
	}
	return out, nil
}

// Checkpoint names the counter holding the last processed entry id.
type Checkpoint struct {
	Repo model.RepositoryID
	Name string
}

// Tailer processes the entries of a bookmark update log in id order.
//
// Thread-safety: a Tailer must be driven from one goroutine. Running two
// sync tailers for the same pair is safe but wasteful: bookmark CAS and
// the mapping's at-most-one-outcome rule keep the target consistent.
type Tailer struct {
	processor  Processor
	log        syncer.BookmarkUpdateLog
	counters   syncer.Counters
	checkpoint Checkpoint
	cfg        Config
	fields     []zap.Field

	logger  *zap.Logger
	metrics *metrics.Metrics
	runIDs  RunIDGenerator
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Tailer.
type Option func(*Tailer)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tailer) { t.logger = l }
}

// WithMetrics sets the collectors the tailer reports to.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tailer) { t.metrics = m }
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(t *Tailer) { t.runIDs = g }
}

// WithClock sets the clock used to measure entry durations.
func WithClock(now func() time.Time) Option {
	return func(t *Tailer) { t.now = now }
}

// WithSleep replaces the function used to wait between polls.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tailer) { t.sleep = sleep }
}

// WithFields adds fields to every record of a run.
func WithFields(fields ...zap.Field) Option {
	return func(t *Tailer) { t.fields = append(t.fields, fields...) }
}

// New creates a tailer feeding the entries of log to p and keeping its
// position in the checkpoint counter.
func New(p Processor, log syncer.BookmarkUpdateLog, counters syncer.Counters, checkpoint Checkpoint, cfg Config, opts ...Option) *Tailer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Sleep <= 0 {
		cfg.Sleep = DefaultSleep
	}
	t := &Tailer{
		processor:  p,
		log:        log,
		counters:   counters,
		checkpoint: checkpoint,
		cfg:        cfg,
		logger:     zap.NewNop(),
		metrics:    metrics.NewNop(),
		runIDs:     UUIDv7Generator{},
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewSyncTailer creates the tailer of a sync job: it replays the log of
// s.Source() into s.Target() and checkpoints on the target repo.
func NewSyncTailer(s *syncer.Syncer, log syncer.BookmarkUpdateLog, counters syncer.Counters, cfg Config, opts ...Option) *Tailer {
	checkpoint := Checkpoint{Repo: s.Target().ID(), Name: CounterName(s.Source().ID())}
	opts = append([]Option{WithFields(
		zap.Stringer("source_repo", s.Source().ID()),
		zap.Stringer("target_repo", s.Target().ID()),
	)}, opts...)
	return New(SyncProcessor{Syncer: s}, log, counters, checkpoint, cfg, opts...)
}

// Checkpoint returns the id of the last fully synced entry, or 0 if the
// counter has never been set.
func (t *Tailer) Checkpoint(ctx context.Context) (uint64, error) {
	v, ok, err := t.counters.GetCounter(ctx, t.checkpoint.Repo, t.checkpoint.Name)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return uint64(v), nil
}

// Run tails the log until ctx is cancelled, an entry fails or, with
// CatchUpOnce, the log is exhausted. A failed entry stops the tailer
// without advancing the checkpoint past it.
func (t *Tailer) Run(ctx context.Context) error {
	logger := t.logger.With(append([]zap.Field{zap.String("run_id", t.runIDs.Generate())}, t.fields...)...)
	logger.Info("tailer starting", zap.Int("batch_size", t.cfg.BatchSize))

	for {
		n, err := t.runBatch(ctx, logger)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if t.cfg.CatchUpOnce {
			logger.Info("caught up, stopping")
			return nil
		}
		if err := t.sleep(ctx, t.cfg.Sleep); err != nil {
			logger.Info("tailer stopping: context cancelled")
			return err
		}
	}
}

// RunBatch processes at most one batch of entries after the checkpoint
// and returns how many entries it completed.
func (t *Tailer) RunBatch(ctx context.Context) (int, error) {
	return t.runBatch(ctx, t.logger.With(t.fields...))
}

func (t *Tailer) runBatch(ctx context.Context, logger *zap.Logger) (int, error) {
	start, err := t.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := t.log.ReadNextEntries(ctx, start, t.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("read entries after %d: %w", start, err)
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := t.processEntry(ctx, logger, entry); err != nil {
			return i, err
		}
		if err := t.counters.SetCounter(ctx, t.checkpoint.Repo, t.checkpoint.Name, int64(entry.ID)); err != nil {
			return i, fmt.Errorf("advance checkpoint to %d: %w", entry.ID, err)
		}
		t.metrics.SetCheckpoint(entry.ID)
	}
	return len(entries), nil
}

func (t *Tailer) processEntry(ctx context.Context, logger *zap.Logger, entry model.BookmarkUpdateLogEntry) error {
	start := t.now()
	fields := []zap.Field{
		zap.Uint64("entry_id", entry.ID),
		zap.Stringer("bookmark", entry.BookmarkName),
	}

	if re := t.cfg.BookmarkRegex; re != nil && !re.MatchString(string(entry.BookmarkName)) {
		t.metrics.RecordEntry(metrics.ResultFiltered, t.now().Sub(start))
		logger.Debug("skipping entry: bookmark does not match filter", fields...)
		return nil
	}

	res, err := t.processor.ProcessEntry(ctx, entry)
	duration := t.now().Sub(start)
	fields = append(fields, zap.Duration("duration", duration))
	if err != nil {
		t.metrics.RecordEntry(metrics.ResultFailed, duration)
		t.metrics.RecordFailure(err)
		if model.IsCode(err, model.ErrCodeValidationMismatch) {
			t.metrics.RecordMismatch()
		}
		logger.Error("failed to process entry", append(fields,
			zap.String("outcome", metrics.ResultFailed),
			zap.String("error_code", string(model.CodeOf(err))),
			zap.Error(err),
		)...)
		return fmt.Errorf("entry %d (%s): %w", entry.ID, entry.BookmarkName, err)
	}

	t.metrics.RecordEntry(res.Outcome, duration)
	t.metrics.RecordCommits(res.Direct, res.Pushrebased)
	if res.TargetBookmark != "" {
		fields = append(fields, zap.Stringer("target_bookmark", res.TargetBookmark))
	}
	logger.Info("processed entry", append(fields,
		zap.String("outcome", res.Outcome),
		zap.Int("synced", res.Direct+res.Pushrebased),
	)...)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
