package metrics

import (
	"time"

	"github.com/thushan/perch/internal/core/domain"
)

// Projection is a sample narrowed to requested metric paths. AccountID
// and ObservedAt always travel with the values.
type Projection struct {
	AccountID  string             `json:"accountId"`
	ObservedAt time.Time          `json:"observedAt"`
	Values     map[string]float64 `json:"values"`
}

// Project narrows a sample to the given dotted metric paths. Unknown
// paths are dropped silently; an empty field list keeps every path.
func Project(sample *domain.Sample, fields []string) Projection {
	if len(fields) == 0 {
		fields = domain.FieldPaths()
	}

	values := make(map[string]float64, len(fields))
	for _, path := range fields {
		if v, ok := sample.Field(path); ok {
			values[path] = v
		}
	}
	return Projection{
		AccountID:  sample.AccountID,
		ObservedAt: sample.ObservedAt,
		Values:     values,
	}
}

// ProjectAll maps Project over a result set, preserving order
func ProjectAll(samples []*domain.Sample, fields []string) []Projection {
	projections := make([]Projection, 0, len(samples))
	for _, sample := range samples {
		projections = append(projections, Project(sample, fields))
	}
	return projections
}
