package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/logsieve/logsieve/internal/chunker"
	"github.com/logsieve/logsieve/internal/model"
	"github.com/logsieve/logsieve/internal/pool"
	"github.com/logsieve/logsieve/internal/script"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// Session is one sequential run in progress. The normal path drives it
// from the configured inputs; follow mode feeds lines as they appear
// and flushes pending chunks on idle.
type Session struct {
	eng     *Engine
	rt      *script.Runtime
	skipped int
}

// NewSession compiles the script stages and runs the begin stages.
// Sequential sessions own the real state map and write side effects
// straight through.
func (e *Engine) NewSession() (*Session, error) {
	rt, err := script.New(script.Config{
		Stages: e.cfg.Stages,
		Direct: true,
		Out:    e.cfg.Out,
		Diag:   e.cfg.Diag,
		Report: func(err error) {
			e.report(err, e.printDiag)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := rt.RunBegin(); err != nil {
		return nil, err
	}
	return &Session{eng: e, rt: rt}, nil
}

func (e *Engine) printDiag(line string) {
	fmt.Fprintln(e.cfg.Diag, line)
}

// FeedLine pushes one raw line through the pipeline. It returns errStop
// when the run should end (take limit or script exit).
func (s *Session) FeedLine(line, file string, lnum int) error {
	e := s.eng
	if s.skipped < e.cfg.SkipLines {
		s.skipped++
		return nil
	}
	if e.cfg.IgnoreLines != nil && e.cfg.IgnoreLines.MatchString(line) {
		return nil
	}
	e.cfg.Stats.LinesRead.Add(1)
	if chunk, ok := e.cfg.Chunker.FeedLine(line, file, lnum); ok {
		return s.handleChunk(chunk)
	}
	return nil
}

// FlushPending drains every chunk the chunker can still close. Follow
// mode calls this on idle so a stalled stream is not held hostage by an
// open multiline record.
func (s *Session) FlushPending() error {
	for {
		chunk, ok := s.eng.cfg.Chunker.Flush()
		if !ok {
			return nil
		}
		if err := s.handleChunk(chunk); err != nil {
			return err
		}
	}
}

// HasPending reports whether a chunk is still open.
func (s *Session) HasPending() bool {
	return s.eng.cfg.Chunker.HasPending()
}

// handleChunk parses one chunk and pushes the event through the stages.
func (s *Session) handleChunk(chunk model.Chunk) error {
	e := s.eng
	e.cfg.Stats.ChunksBuilt.Add(1)

	p, consumed, err := e.resolveParser(chunk)
	if err != nil {
		return err
	}
	if consumed {
		return nil
	}

	ev, err := e.parseChunk(p, chunk, e.printDiag)
	if err != nil {
		if lserrors.Aborts(err, e.cfg.Strict) {
			return err
		}
		e.report(err, e.printDiag)
		return nil
	}
	if ev == nil {
		return nil
	}

	if !e.preSelect(ev) {
		e.cfg.Stats.EventsDropped.Add(1)
		return nil
	}

	keep, err := s.rt.RunEvent(ev)
	if err != nil {
		if lserrors.Aborts(err, e.cfg.Strict) {
			return err
		}
		e.report(err, e.printDiag)
		e.cfg.Stats.EventsDropped.Add(1)
		return s.checkExit()
	}
	if !keep {
		e.cfg.Stats.EventsDropped.Add(1)
		return s.checkExit()
	}

	e.project(ev)
	if err := e.emitEvent(ev, e.format(ev)); err != nil {
		return err
	}
	return s.checkExit()
}

func (e *Engine) format(ev *model.Event) string {
	if e.cfg.Sink != nil || e.cfg.StatsOnly {
		return ""
	}
	return e.cfg.Formatter.Format(ev)
}

// checkExit stops the read loop after the current event when a script
// requested exit.
func (s *Session) checkExit() error {
	if code, ok := s.rt.Effects().ExitRequested(); ok {
		s.eng.requestExit(code)
		return errStop
	}
	return nil
}

// Finish flushes pending chunks, runs the end stages, and merges the
// session's track() values. Pending chunks are skipped after a script
// exit, matching the immediate-stop contract.
func (s *Session) Finish(flushPending bool) error {
	if flushPending {
		if err := s.FlushPending(); err != nil && !errors.Is(err, errStop) {
			return err
		}
	}
	s.eng.cfg.Stats.MergeTracks(s.rt.Effects().TakeTracks())
	return s.rt.RunEnd(s.eng.cfg.Stats.MetricsMap())
}

// runSequential drives a Session over the configured inputs.
func (e *Engine) runSequential(ctx context.Context) error {
	sess, err := e.NewSession()
	if err != nil {
		return err
	}

	stopped := false
	for _, input := range e.cfg.Inputs {
		if stopped {
			break
		}
		if err := e.scanInput(ctx, input, sess); err != nil {
			if errors.Is(err, errStop) {
				stopped = true
				break
			}
			return err
		}
		// Records do not span input files except in all mode.
		if e.cfg.Chunker.Mode() != chunker.ModeAll {
			if err := sess.FlushPending(); err != nil {
				if errors.Is(err, errStop) {
					stopped = true
					break
				}
				return err
			}
		}
	}

	return sess.Finish(!stopped)
}

// scanInput streams one input through the session.
func (e *Engine) scanInput(ctx context.Context, input Input, sess *Session) error {
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
		select {
		case <-ctx.Done():
			return lserrors.Wrap(ctx.Err(), lserrors.SeverityFatal, lserrors.CodeCanceled,
				"interrupted")
		default:
		}
		if err := sess.FeedLine(sc.Line(), input.Name, sc.LNum()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeRead,
			"reading %s", input.Name)
	}
	return nil
}
