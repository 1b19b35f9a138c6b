package engine

import (
	"context"
	"fmt"
	"testing"
)

// Feed batch results to the sink deliberately out of sequence order and
// verify the output is reassembled by sequence number.
func TestSinkReassemblesOutOfOrderBatches(t *testing.T) {
	r := newTestRun(t, "", true, nil)

	results := make([]*batchResult, 5)
	for seq := range results {
		results[seq] = &batchResult{
			seq: uint64(seq),
			items: []item{{
				line:    fmt.Sprintf("batch %d", seq),
				hasLine: true,
			}},
		}
	}

	ch := make(chan *batchResult)
	done := make(chan error, 1)
	go func() {
		done <- r.eng.runSink(context.Background(), ch)
	}()
	for _, seq := range []int{2, 0, 4, 1, 3} {
		ch <- results[seq]
	}
	close(ch)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	want := "batch 0\nbatch 1\nbatch 2\nbatch 3\nbatch 4\n"
	if r.out.String() != want {
		t.Errorf("out = %q, want %q", r.out.String(), want)
	}
}

// Results arriving after an exit-triggering batch must be drained but
// never emitted, even when they reach the sink first.
func TestSinkDropsBatchesAfterExit(t *testing.T) {
	r := newTestRun(t, "", true, nil)

	early := &batchResult{seq: 0, items: []item{{line: "kept", hasLine: true}}}
	exiting := &batchResult{seq: 1, exitRequested: true, exitCode: 3}
	late := &batchResult{seq: 2, items: []item{{line: "dropped", hasLine: true}}}

	ch := make(chan *batchResult)
	done := make(chan error, 1)
	go func() {
		done <- r.eng.runSink(context.Background(), ch)
	}()
	ch <- late
	ch <- exiting
	ch <- early
	close(ch)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if r.out.String() != "kept\n" {
		t.Errorf("out = %q, want %q", r.out.String(), "kept\n")
	}
	code, requested := r.eng.ExitRequested()
	if !requested || code != 3 {
		t.Errorf("exit = (%d, %v), want (3, true)", code, requested)
	}
}
