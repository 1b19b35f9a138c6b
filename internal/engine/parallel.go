package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logsieve/logsieve/internal/chunker"
	"github.com/logsieve/logsieve/internal/model"
	"github.com/logsieve/logsieve/internal/pool"
	"github.com/logsieve/logsieve/internal/script"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// line is one raw input line with provenance. A boundary line carries
// no text; it marks the end of one input so the batcher can flush the
// chunker between files.
type line struct {
	text     string
	file     string
	lnum     int
	boundary bool
}

// batch is the parallel unit of work: an ordered group of chunks with a
// global sequence number.
type batch struct {
	seq    uint64
	chunks []model.Chunk
}

// item is one event's worth of output: its captured side-effect
// messages followed by the event itself (formatted line, plus the event
// value when a sink needs it). Dropped events leave msgs only.
type item struct {
	msgs    []script.Message
	line    string
	event   *model.Event
	hasLine bool
}

// batchResult is a worker's completed batch, reassembled by the sink in
// sequence order.
type batchResult struct {
	seq    uint64
	items  []item
	tracks map[string]float64

	exitRequested bool
	exitCode      int
}

// runParallel wires the reader -> batcher -> worker pool -> ordered
// sink pipeline. Begin and end stages run here on the coordinator,
// where the state map is available.
func (e *Engine) runParallel(ctx context.Context) error {
	coord, err := script.New(script.Config{
		Stages: e.cfg.Stages,
		Direct: true,
		Out:    e.cfg.Out,
		Diag:   e.cfg.Diag,
		Report: func(err error) { e.report(err, e.printDiag) },
	})
	if err != nil {
		return err
	}
	if err := coord.RunBegin(); err != nil {
		return err
	}
	conf := coord.Conf()

	g, gctx := errgroup.WithContext(ctx)

	linesCh := make(chan line, 4*e.cfg.BatchSize)
	batchCh := make(chan batch, e.cfg.Threads)
	resultCh := make(chan *batchResult, e.cfg.Threads)

	g.Go(func() error {
		defer close(linesCh)
		return e.readLines(gctx, linesCh)
	})
	g.Go(func() error {
		defer close(batchCh)
		return e.batchLines(gctx, linesCh, batchCh)
	})

	var workers sync.WaitGroup
	for i := 0; i < e.cfg.Threads; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return e.runWorker(gctx, conf, batchCh, resultCh)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(resultCh)
		return nil
	})
	g.Go(func() error {
		return e.runSink(gctx, resultCh)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStop) {
		return err
	}

	e.cfg.Stats.MergeTracks(coord.Effects().TakeTracks())
	return coord.RunEnd(e.cfg.Stats.MetricsMap())
}

// readLines streams every input into the lines channel, applying the
// skip and ignore pre-filters.
func (e *Engine) readLines(ctx context.Context, out chan<- line) error {
	skipped := 0
	for _, input := range e.cfg.Inputs {
		if e.stopped.Load() {
			return nil
		}
		if err := func() error {
			r, err := input.Open(ctx)
			if err != nil {
				e.cfg.Stats.FilesFailed.Add(1)
				return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeFileOpen,
					"opening %s", input.Name)
			}
			defer r.Close()

			sc := pool.NewLineScanner(r)
			defer sc.Close()
			for sc.Scan() {
				if e.stopped.Load() {
					return nil
				}
				if skipped < e.cfg.SkipLines {
					skipped++
					continue
				}
				text := sc.Line()
				if e.cfg.IgnoreLines != nil && e.cfg.IgnoreLines.MatchString(text) {
					continue
				}
				select {
				case out <- line{text: text, file: input.Name, lnum: sc.LNum()}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err := sc.Err(); err != nil {
				return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeRead,
					"reading %s", input.Name)
			}
			return nil
		}(); err != nil {
			return err
		}
		// Records do not span input files except in all mode.
		if e.cfg.Chunker.Mode() != chunker.ModeAll {
			select {
			case out <- line{boundary: true}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// batchLines feeds the chunker and groups completed chunks into batches
// bounded by size and by the batch timeout, whichever triggers first.
// It owns the chunker and the parser priming, so ordering and detection
// stay single-threaded.
func (e *Engine) batchLines(ctx context.Context, in <-chan line, out chan<- batch) error {
	var (
		cur      []model.Chunk
		seq      uint64
		timer    = time.NewTimer(e.cfg.BatchTimeout)
		timerSet = false
	)
	defer timer.Stop()
	if !timer.Stop() {
		<-timer.C
	}

	dispatch := func() error {
		if len(cur) == 0 {
			return nil
		}
		b := batch{seq: seq, chunks: cur}
		seq++
		cur = nil
		select {
		case out <- b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	addChunk := func(chunk model.Chunk) error {
		e.cfg.Stats.ChunksBuilt.Add(1)
		_, consumed, err := e.resolveParser(chunk)
		if err != nil {
			return err
		}
		if consumed {
			return nil
		}
		if len(cur) == 0 && !timerSet {
			timer.Reset(e.cfg.BatchTimeout)
			timerSet = true
		}
		cur = append(cur, chunk)
		if len(cur) >= e.cfg.BatchSize {
			if timerSet {
				if !timer.Stop() {
					<-timer.C
				}
				timerSet = false
			}
			return dispatch()
		}
		return nil
	}

	flushChunker := func() error {
		for {
			chunk, ok := e.cfg.Chunker.Flush()
			if !ok {
				return nil
			}
			if err := addChunk(chunk); err != nil {
				return err
			}
		}
	}

	for {
		select {
		case l, ok := <-in:
			if !ok {
				// Stream end: flush the chunker unless a script exit
				// already stopped intake.
				if !e.stopped.Load() {
					if err := flushChunker(); err != nil {
						return err
					}
				}
				return dispatch()
			}
			if e.stopped.Load() {
				continue // drain so the reader never blocks
			}
			if l.boundary {
				if err := flushChunker(); err != nil {
					return err
				}
				continue
			}
			e.cfg.Stats.LinesRead.Add(1)
			if chunk, ok := e.cfg.Chunker.FeedLine(l.text, l.file, l.lnum); ok {
				if err := addChunk(chunk); err != nil {
					return err
				}
			}
		case <-timer.C:
			timerSet = false
			if err := dispatch(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runWorker owns one script runtime: private compiled programs, regex
// cache, and capture buffer. State access is denied; misuse surfaces as
// the descriptive Hard error.
func (e *Engine) runWorker(ctx context.Context, conf map[string]interface{}, in <-chan batch, out chan<- *batchResult) error {
	var rt *script.Runtime
	rt, err := script.New(script.Config{
		Stages: e.cfg.Stages,
		State:  script.DeniedState{},
		Conf:   conf,
		Report: func(err error) {
			e.cfg.Stats.CountError(err)
			if line, ok := e.cfg.Reporter.Report(err); ok {
				rt.Effects().EPrint(line)
			}
		},
	})
	if err != nil {
		return err
	}
	fx := rt.Effects()

	for {
		select {
		case b, ok := <-in:
			if !ok {
				return nil
			}
			res, err := e.processBatch(rt, fx, b)
			if err != nil {
				return err
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processBatch evaluates every chunk of one batch, capturing each
// event's side-effect messages next to its formatted output.
func (e *Engine) processBatch(rt *script.Runtime, fx *script.Effects, b batch) (*batchResult, error) {
	res := &batchResult{seq: b.seq, items: make([]item, 0, len(b.chunks))}

	capture := func() {
		if msgs := fx.TakeMessages(); len(msgs) > 0 {
			res.items = append(res.items, item{msgs: msgs})
		}
	}

	for _, chunk := range b.chunks {
		ev, err := e.parseChunk(e.parser, chunk, fx.EPrint)
		if err != nil {
			if lserrors.Aborts(err, e.cfg.Strict) {
				return nil, err
			}
			e.report(err, fx.EPrint)
			capture()
			continue
		}
		if ev == nil {
			capture()
			continue
		}

		if !e.preSelect(ev) {
			e.cfg.Stats.EventsDropped.Add(1)
			capture()
			continue
		}

		keep, err := rt.RunEvent(ev)
		if err != nil {
			if lserrors.Aborts(err, e.cfg.Strict) {
				return nil, err
			}
			e.report(err, fx.EPrint)
			e.cfg.Stats.EventsDropped.Add(1)
			keep = false
		}

		it := item{msgs: fx.TakeMessages()}
		if keep {
			e.project(ev)
			it.hasLine = true
			if e.cfg.Sink != nil {
				it.event = ev
			} else if !e.cfg.StatsOnly {
				it.line = e.cfg.Formatter.Format(ev)
			}
		} else if err == nil {
			e.cfg.Stats.EventsDropped.Add(1)
		}
		res.items = append(res.items, it)

		if code, requested := fx.ExitRequested(); requested {
			res.exitRequested = true
			res.exitCode = code
			e.stopped.Store(true)
			break
		}
	}

	res.tracks = fx.TakeTracks()
	return res, nil
}

// runSink reassembles batch results in sequence order and replays each
// event's captured messages immediately before its output line,
// reproducing the sequential interleaving byte for byte.
func (e *Engine) runSink(ctx context.Context, in <-chan *batchResult) error {
	pending := make(map[uint64]*batchResult)
	next := uint64(0)
	exited := false

	for res := range in {
		pending[res.seq] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if exited {
				continue
			}
			if err := e.emitBatch(r); err != nil {
				if errors.Is(err, errStop) {
					exited = true
					continue
				}
				return err
			}
			if r.exitRequested {
				e.requestExit(r.exitCode)
				exited = true
			}
		}
	}
	return nil
}

// emitBatch writes one batch's items in order.
func (e *Engine) emitBatch(r *batchResult) error {
	defer e.cfg.Stats.MergeTracks(r.tracks)
	for _, it := range r.items {
		for _, m := range it.msgs {
			dst := e.cfg.Out
			if m.Stream == script.StreamErr {
				dst = e.cfg.Diag
			}
			if _, err := dst.Write(append([]byte(m.Text), '\n')); err != nil {
				return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeWriteFailed,
					"replaying captured output")
			}
		}
		if it.hasLine {
			if err := e.emitEvent(it.event, it.line); err != nil {
				return err
			}
		}
	}
	return nil
}
