package pipeline

import (
	"encoding/json"

	"github.com/cartfeed/catalog-sync-server/internal/records"
)

// Transformer maps one exported source record into a destination catalog
// record. The field-by-field mapping is owned by the destination
// integration; the pipeline only batches and pushes the results.
type Transformer interface {
	// Transform converts a source record. A nil result with nil error
	// drops the record.
	Transform(line records.Line) (json.RawMessage, error)
}

// passthroughTransformer forwards records untouched
type passthroughTransformer struct{}

// NewPassthroughTransformer returns a transformer that forwards source
// records as-is
func NewPassthroughTransformer() Transformer {
	return passthroughTransformer{}
}

func (passthroughTransformer) Transform(line records.Line) (json.RawMessage, error) {
	return line.Raw, nil
}
