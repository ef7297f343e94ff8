package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/tandem/internal/config"
	"github.com/mvp-joe/tandem/internal/logging"
)

var (
	// ErrStopped is returned by Start when the watcher is stopped before
	// the initial scan completes.
	ErrStopped = errors.New("watcher stopped")

	// ErrAlreadyStarted is returned by Start on a running watcher.
	ErrAlreadyStarted = errors.New("watcher already started")
)

// Options configures a ChannelWatcher.
type Options struct {
	// Root is the absolute path of the synchronized folder.
	Root        string
	Store       Store
	Merger      Merger
	Checksummer Checksummer
	Backend     Backend
	Ignore      IgnoreMatcher
	Flags       FlagStore
	// Notifier receives the lifecycle notifications. One is created when
	// nil.
	Notifier       *Notifier
	Config         config.WatcherConfig
	ProvenanceSize int
	Logger         *slog.Logger
}

func (o Options) validate() error {
	var errs []error
	if o.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if o.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if o.Merger == nil {
		errs = append(errs, errors.New("merger is required"))
	}
	if o.Checksummer == nil {
		errs = append(errs, errors.New("checksummer is required"))
	}
	if o.Backend == nil {
		errs = append(errs, errors.New("backend is required"))
	}
	return errors.Join(errs...)
}

// ChannelWatcher runs the local change pipeline of one synchronized folder:
//
//	producer → addInfos → filterIgnored → localStart → [identicalRenaming] →
//	scanFolder → awaitWriteFinish → initialDiff → addChecksum →
//	incompleteFixer → overwrite → dispatch
//
// Every stage runs in its own goroutine and owns its part of the
// PipelineState.
type ChannelWatcher struct {
	opts     Options
	notifier *Notifier
	log      *slog.Logger

	mu       sync.Mutex
	running  bool
	producer *Producer
	prov     *Provenance
	state    *PipelineState
	cancel   context.CancelFunc
	stopped  chan struct{}
	scanDone chan struct{}
	fatal    chan struct{}

	fatalOnce sync.Once
	fatalErr  error
}

// New creates a watcher. Nothing runs before Start.
func New(opts Options) (*ChannelWatcher, error) {
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid watcher options: %w", err)
	}
	if opts.Notifier == nil {
		opts.Notifier = NewNotifier()
	}
	return &ChannelWatcher{
		opts:     opts,
		notifier: opts.Notifier,
		log:      logging.Component(opts.Logger, "ChannelWatcher"),
	}, nil
}

// Notifier returns the notifier lifecycle notifications are published to.
func (w *ChannelWatcher) Notifier() *Notifier {
	return w.notifier
}

// Provenance returns the notes of the current session, nil before Start.
func (w *ChannelWatcher) Provenance() *Provenance {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prov
}

// Start builds a fresh pipeline state, starts every stage and the producer,
// and returns once the initial scan has been dispatched.
func (w *ChannelWatcher) Start(ctx context.Context) error {
	if err := w.launch(ctx); err != nil {
		return err
	}

	select {
	case <-w.scanDone:
		w.log.Info("watcher started", "root", w.opts.Root)
		return nil
	case <-w.fatal:
		return w.fatalErr
	case <-w.stopped:
		return ErrStopped
	case <-ctx.Done():
		if err := w.Stop(); err != nil {
			return errors.Join(ctx.Err(), err)
		}
		return ctx.Err()
	}
}

func (w *ChannelWatcher) launch(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyStarted
	}

	docs, err := w.opts.Store.InitialScanDocs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load known documents: %w", err)
	}
	prov, err := NewProvenance(w.opts.ProvenanceSize)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)

	w.running = true
	w.prov.Close()
	w.prov = prov
	w.state = NewPipelineState(docs)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.scanDone = make(chan struct{})
	w.fatal = make(chan struct{})
	w.fatalOnce = sync.Once{}
	w.fatalErr = nil
	w.producer = NewProducer(w.opts.Root, w.opts.Backend, w.opts.Ignore, w.notifier, w.opts.Logger)

	w.build(gctx, g)

	producer := w.producer
	g.Go(func() error {
		if err := producer.Start(gctx); err != nil && gctx.Err() == nil {
			w.Fatal(fmt.Errorf("producer failed: %w", err))
		}
		return nil
	})

	stopped := w.stopped
	go func() {
		_ = g.Wait()
		close(stopped)
	}()
	return nil
}

func (w *ChannelWatcher) build(ctx context.Context, g *errgroup.Group) {
	cfg := w.opts.Config
	logger := w.opts.Logger
	st := w.state
	scanDone := w.scanDone
	var scanOnce sync.Once

	addInfos := newAddInfos(w.opts.Root, w.opts.Store, w.prov, logger)
	filter := newFilterIgnored(w.opts.Ignore, w.prov, logger)
	start := &localStart{notifier: w.notifier}
	scan := newScanFolder(w.producer.Scan, logger)
	awf := newAwaitWriteFinish(&st.AwaitWriteFinish, cfg.AwaitWriteFinishDelay, w.prov, logger)
	diff := newInitialDiff(&st.InitialDiff, cfg.InitialDiffDelay, w.opts.Flags, w.prov, logger)
	checksum := newAddChecksum(w.opts.Root, w.opts.Checksummer, logger)
	fixer := newIncompleteFixer(&st.Incomplete, w.opts.Root, cfg.IncompleteExpiry, w.opts.Store, w.opts.Checksummer, w.prov, logger)
	ow := newOverwrite(&st.Overwrite, cfg.OverwriteDelay, w.prov, logger)
	dispatch := newDispatcher(&st.Dispatch, w.opts.Store, w.opts.Merger, w.opts.Flags, w.notifier, cfg.LocalEndDelay, w.prov, logger)
	dispatch.scanDone = func() { scanOnce.Do(func() { close(scanDone) }) }

	c := w.producer.Channel()
	c = w.asyncStage(ctx, g, c, addInfos.step)
	c = w.syncStage(ctx, g, c, filter.step)
	c = w.syncStage(ctx, g, c, start.step)
	if cfg.IdenticalRenaming {
		c = w.timedStage(ctx, g, c, newIdenticalRenaming(&st.IdenticalRenaming, cfg.IdenticalRenamingDelay, w.opts.Store, w.prov, logger))
	}
	c = w.asyncStage(ctx, g, c, scan.step)
	c = w.timedStage(ctx, g, c, awf)
	c = w.timedStage(ctx, g, c, diff)
	c = w.asyncStage(ctx, g, c, checksum.step)
	c = w.asyncStage(ctx, g, c, fixer.step)
	c = w.timedStage(ctx, g, c, ow)
	w.asyncStage(ctx, g, c, dispatch.step)
}

func (w *ChannelWatcher) asyncStage(ctx context.Context, g *errgroup.Group, in *Channel, fn func(context.Context, Batch) (Batch, error)) *Channel {
	out := NewChannel()
	g.Go(func() error {
		return in.Pipe(ctx, out, fn, w.Fatal)
	})
	return out
}

func (w *ChannelWatcher) syncStage(ctx context.Context, g *errgroup.Group, in *Channel, fn func(Batch) Batch) *Channel {
	return w.asyncStage(ctx, g, in, func(_ context.Context, b Batch) (Batch, error) {
		return fn(b), nil
	})
}

func (w *ChannelWatcher) timedStage(ctx context.Context, g *errgroup.Group, in *Channel, st deferringStage) *Channel {
	out := NewChannel()
	g.Go(func() error {
		return runDeferring(ctx, in, out, st, w.Fatal)
	})
	return out
}

// Stop cancels every stage and stops watching. It waits for the stage
// goroutines to return.
func (w *ChannelWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}
	w.log.Info("stopping watcher")

	w.cancel()
	err := w.producer.Stop()
	<-w.stopped

	w.state.Dispatch.mu.Lock()
	if w.state.Dispatch.localEnd != nil {
		w.state.Dispatch.localEnd.Stop()
	}
	w.state.Dispatch.mu.Unlock()

	w.running = false
	return err
}

// Suspend stops watching without tearing the pipeline down.
func (w *ChannelWatcher) Suspend() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ErrStopped
	}
	return w.producer.Suspend()
}

// Resume watches again after Suspend.
func (w *ChannelWatcher) Resume(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return ErrStopped
	}
	return w.producer.Resume(ctx)
}

// Fatal stops the pipeline because of err and publishes a fatal
// notification. Only the first call has an effect.
func (w *ChannelWatcher) Fatal(err error) {
	if w.cancel == nil {
		w.log.Error("fatal error before start", "error", err)
		return
	}
	w.fatalOnce.Do(func() {
		w.log.Error("local watcher fatal error", "error", err)
		w.fatalErr = err
		w.notifier.Publish(Notification{Type: NotifyFatal, Err: err})
		close(w.fatal)
		w.cancel()
	})
}

// Wait blocks until the pipeline stops and returns the fatal error that
// stopped it, if any.
func (w *ChannelWatcher) Wait() error {
	w.mu.Lock()
	stopped, fatal := w.stopped, w.fatal
	w.mu.Unlock()
	if stopped == nil {
		return nil
	}

	<-stopped
	select {
	case <-fatal:
		return w.fatalErr
	default:
		return nil
	}
}

func stepLogger(logger *slog.Logger, step string) *slog.Logger {
	return logging.Component(logger, "ChannelWatcher/"+step)
}
