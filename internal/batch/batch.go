package batch

import (
	"context"
	"encoding/json"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Status values for a single item.
const (
	StatusSuccess   = "success"
	StatusUnchanged = "unchanged"
	StatusError     = "error"
)

// DefaultLimit is the number of items processed concurrently when the
// caller does not choose.
const DefaultLimit = 5

// ErrUnchanged is returned by a batch function that had nothing to do.
// The item is reported as unchanged rather than failed.
var ErrUnchanged = errors.New("unchanged")

// Result represents the result of a single operation in a batch
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Err keeps the original error for errors.Is/As checks.
	Err error `json:"-"`
}

// BatchResult represents the aggregated results of a batch operation
type BatchResult struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Unchanged  int      `json:"unchanged"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// Summarize counts results by status.
func Summarize(results []Result) BatchResult {
	br := BatchResult{
		Total:   len(results),
		Results: results,
	}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			br.Successful++
		case StatusUnchanged:
			br.Unchanged++
		default:
			br.Failed++
		}
	}
	return br
}

// IDs returns the ids of results with the given status, in input order.
func (b BatchResult) IDs(status string) []string {
	var ids []string
	for _, r := range b.Results {
		if r.Status == status {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Errors maps failed ids to their error.
func (b BatchResult) Errors() map[string]error {
	errs := make(map[string]error)
	for _, r := range b.Results {
		if r.Status == StatusError {
			errs[r.ID] = r.Err
		}
	}
	return errs
}

// FormatResults creates a formatted JSON string from batch results
func FormatResults(results []Result) string {
	jsonBytes, _ := json.MarshalIndent(Summarize(results), "", "  ")
	return string(jsonBytes)
}

// ProcessBatch runs fn for every id with at most limit calls in flight and
// returns one Result per id in input order. A failing item never stops the
// others; items not yet started when ctx is done are reported as errors.
func ProcessBatch(ctx context.Context, ids []string, limit int, fn func(ctx context.Context, id string) (string, error)) []Result {
	if limit <= 0 {
		limit = DefaultLimit
	}

	results := make([]Result, len(ids))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = NewErrorResult(id, err)
				return nil
			}
			res, err := fn(ctx, id)
			switch {
			case errors.Is(err, ErrUnchanged):
				results[i] = Result{ID: id, Status: StatusUnchanged, Result: res}
			case err != nil:
				results[i] = NewErrorResult(id, err)
			default:
				results[i] = NewSuccessResult(id, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// NewSuccessResult creates a success result
func NewSuccessResult(id, message string) Result {
	return Result{
		ID:     id,
		Status: StatusSuccess,
		Result: message,
	}
}

// NewErrorResult creates an error result
func NewErrorResult(id string, err error) Result {
	return Result{
		ID:     id,
		Status: StatusError,
		Error:  err.Error(),
		Err:    err,
	}
}
