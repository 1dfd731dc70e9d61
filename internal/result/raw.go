package result

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	nrqlResultsPath  = []string{"data", "actor", "account", "nrql", "results"}
	entitySearchPath = []string{"data", "actor", "entitySearch", "results", "entities"}
)

// RawResult pairs an executed query with its transport outcome.
type RawResult struct {
	Query      string
	Success    bool
	StatusCode int
	Body       []byte
	Err        error
	Elapsed    time.Duration
	Cached     bool
}

// Status describes the outcome for error messages.
func (r RawResult) Status() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.StatusCode != 0:
		return fmt.Sprintf("HTTP %d", r.StatusCode)
	case r.Success:
		return "ok"
	default:
		return "unknown failure"
	}
}

// Records extracts data.actor.account.nrql.results.
func (r RawResult) Records() ([]Record, error) {
	raw, err := r.extract(nrqlResultsPath)
	if err != nil {
		return nil, err
	}
	return DecodeRecords(raw)
}

// Entities extracts data.actor.entitySearch.results.entities.
func (r RawResult) Entities() ([]Record, error) {
	raw, err := r.extract(entitySearchPath)
	if err != nil {
		return nil, err
	}
	return DecodeRecords(raw)
}

// Series returns the only record of a single-row result.
func (r RawResult) Series() (Record, error) {
	records, err := r.Records()
	if err != nil {
		return Record{}, err
	}
	if len(records) != 1 {
		return Record{}, &QueryFailedError{Query: r.Query, Status: fmt.Sprintf("expected 1 row, got %d", len(records))}
	}
	return records[0], nil
}

// Table normalizes the result rows.
func (r RawResult) Table() (*Table, error) {
	records, err := r.Records()
	if err != nil {
		return nil, err
	}
	table, err := Normalize(records)
	if err != nil {
		var empty *EmptyResultError
		if errors.As(err, &empty) {
			empty.Query = r.Query
		}
		return nil, err
	}
	return table, nil
}

func (r RawResult) extract(path []string) (json.RawMessage, error) {
	if !r.Success {
		return nil, &QueryFailedError{Query: r.Query, Status: r.Status()}
	}
	current := json.RawMessage(r.Body)
	for i, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(current, &obj); err != nil || obj == nil {
			return nil, &UnexpectedShapeError{Query: r.Query, Path: joinPath(path[:i]), Key: key}
		}
		next, ok := obj[key]
		if !ok || isJSONNull(next) {
			return nil, &UnexpectedShapeError{Query: r.Query, Path: joinPath(path[:i]), Key: key}
		}
		current = next
	}
	return current, nil
}

func joinPath(keys []string) string {
	if len(keys) == 0 {
		return "<root>"
	}
	return strings.Join(keys, ".")
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
