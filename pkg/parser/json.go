package parser

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/logsieve/logsieve/internal/model"
	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// JSONParser decodes one JSON object per chunk. Top-level key order is
// preserved by walking the token stream instead of unmarshalling into a
// map.
type JSONParser struct{}

// Name implements Parser.
func (JSONParser) Name() string { return "json" }

// Parse implements Parser.
func (p JSONParser) Parse(chunk model.Chunk) (*model.Event, error) {
	dec := json.NewDecoder(strings.NewReader(chunk.Text))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum,
			fmt.Errorf("expected a JSON object, got %v", tok))
	}

	e := model.NewEvent(chunk.Text, chunk.File, chunk.LNum)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, lserrors.ParseError(p.Name(), chunk.LNum, err)
		}
		key := keyTok.(string)
		val, err := readValue(dec)
		if err != nil {
			return nil, lserrors.ParseError(p.Name(), chunk.LNum, err)
		}
		e.Set(key, model.FromAny(val))
	}
	if _, err := dec.Token(); err != nil {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum, err)
	}
	// Trailing garbage after the closing brace is a parse failure, not
	// a silently truncated record.
	if tok, err := dec.Token(); err != io.EOF {
		return nil, lserrors.ParseError(p.Name(), chunk.LNum,
			fmt.Errorf("trailing content after JSON object: %v", tok))
	}
	return e, nil
}

// readValue consumes one JSON value from the token stream.
func readValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			m := make(map[string]interface{})
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				v, err := readValue(dec)
				if err != nil {
					return nil, err
				}
				m[keyTok.(string)] = v
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return m, nil
		case '[':
			var list []interface{}
			for dec.More() {
				v, err := readValue(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	default:
		return t, nil
	}
}
