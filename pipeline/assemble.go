package pipeline

import "github.com/aluiziolira/go-scrape-gallery/models"

// Assemble snapshots the aggregator into a Dataset. Row order is append
// order and failures stay in their own list.
func Assemble(agg *Aggregator) models.Dataset {
	if agg == nil {
		return models.Dataset{}
	}
	return models.Dataset{
		Rows:     agg.Rows(),
		Failures: agg.Failures(),
	}
}
