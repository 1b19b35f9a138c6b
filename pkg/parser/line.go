package parser

import (
	"github.com/logsieve/logsieve/internal/model"
)

// LineParser wraps the raw chunk text in a single msg field. It never
// fails, so it is the auto-detection fallback.
type LineParser struct{}

// Name implements Parser.
func (LineParser) Name() string { return "line" }

// Parse implements Parser.
func (LineParser) Parse(chunk model.Chunk) (*model.Event, error) {
	e := model.NewEvent(chunk.Text, chunk.File, chunk.LNum)
	e.Set("msg", model.String(chunk.Text))
	return e, nil
}
