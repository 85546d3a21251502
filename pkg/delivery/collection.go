package delivery

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethpandaops/dynalloc/pkg/measures"
)

// Record is one hour of observed delivery for one node.
type Record struct {
	Measures    measures.MeasureSet `json:"measures"`
	Hour        time.Time           `json:"hour"`
	Impressions float64             `json:"impressions"`
	MediaSpend  float64             `json:"mediaSpend"`
}

// IngestResult summarises an Ingest call.
type IngestResult struct {
	Applied int `json:"applied"`
	Skipped int `json:"skipped"`
}

// Collection holds the delivery history of every node of a campaign.
type Collection map[measures.MeasureSet]*NodeDeliveryMetrics

// Ingest folds records into the collection in hour order. Records for hours
// a node has already processed are skipped; invalid records abort the batch
// after the records before them have been applied.
func (c Collection) Ingest(records []Record) (IngestResult, error) {
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b Record) int {
		return a.Hour.Compare(b.Hour)
	})

	var result IngestResult
	for _, rec := range sorted {
		node, ok := c[rec.Measures]
		if !ok {
			node = NewNodeDeliveryMetrics()
		}

		err := node.RecordEligibleHour(rec.Hour, rec.Impressions, rec.MediaSpend)
		switch {
		case err == nil:
			c[rec.Measures] = node
			result.Applied++
		case errors.Is(err, ErrHourAlreadyProcessed):
			result.Skipped++
		default:
			return result, fmt.Errorf("node %s: %w", rec.Measures, err)
		}
	}

	return result, nil
}

// Effective exposes the collection through the EffectiveNodeMetrics interface.
func (c Collection) Effective() map[measures.MeasureSet]EffectiveNodeMetrics {
	out := make(map[measures.MeasureSet]EffectiveNodeMetrics, len(c))
	for ms, node := range c {
		out[ms] = node
	}

	return out
}
