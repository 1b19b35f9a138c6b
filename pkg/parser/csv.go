package parser

import (
	"encoding/csv"
	"fmt"
	"strings"
	"sync"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// CSVParser decodes comma-separated records. Column names come from
// csv:cols=... or, when absent, from the stream's first row via Prime
// (which runs once on the coordinator, so workers only ever read the
// header).
type CSVParser struct {
	mu   sync.RWMutex
	cols []string
}

// NewCSVParser creates a CSV parser. A nil cols slice means the header
// row is taken from the first chunk.
func NewCSVParser(cols []string) *CSVParser {
	for i, c := range cols {
		cols[i] = strings.TrimSpace(c)
	}
	return &CSVParser{cols: cols}
}

// Name implements Parser.
func (p *CSVParser) Name() string { return "csv" }

// Prime implements Primer: without explicit columns the first chunk is
// the header row and produces no event.
func (p *CSVParser) Prime(chunk model.Chunk) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cols != nil {
		return false, nil
	}
	rec, err := readRecord(chunk.Text)
	if err != nil {
		return false, lserrors.Wrapf(err, lserrors.SeverityHard, lserrors.CodeParseFailed,
			"reading CSV header at line %d", chunk.LNum)
	}
	p.cols = rec
	return true, nil
}

// Parse implements Parser.
func (p *CSVParser) Parse(chunk model.Chunk) (*model.Event, error) {
	p.mu.RLock()
	cols := p.cols
	p.mu.RUnlock()
	if cols == nil {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum,
			fmt.Errorf("no CSV header established"))
	}

	rec, err := readRecord(chunk.Text)
	if err != nil {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum, err)
	}
	if len(rec) != len(cols) {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum,
			fmt.Errorf("%d columns, header has %d", len(rec), len(cols)))
	}

	e := model.NewEvent(chunk.Text, chunk.File, chunk.LNum)
	for i, col := range cols {
		e.Set(col, typedScalar(rec[i]))
	}
	return e, nil
}

func readRecord(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	return r.Read()
}
