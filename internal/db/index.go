package db

import "errors"

// DistanceMetric used by vector similarity queries.
type DistanceMetric string

const (
	// DistanceCosine is cosine distance.
	DistanceCosine DistanceMetric = "COSINE"
	// DistanceL2 is Euclidean distance.
	DistanceL2 DistanceMetric = "L2"
)

// VectorAlgorithm selects the indexing algorithm for vector fields.
type VectorAlgorithm string

const (
	// VectorHNSW uses the HNSW algorithm.
	VectorHNSW VectorAlgorithm = "HNSW"
	// VectorFlat uses the FLAT (brute-force) algorithm.
	VectorFlat VectorAlgorithm = "FLAT"
)

// VectorField describes the single vector field of an index.
type VectorField struct {
	Name        string
	Dim         int
	Distance    DistanceMetric
	Algorithm   VectorAlgorithm
	M           int // HNSW M parameter: max edges per node
	EFConstruct int // HNSW EF_CONSTRUCTION: build-time dynamic list size
}

// IndexDefinition describes a chunk index: one vector field plus TAG fields
// usable as equality pre-filters.
type IndexDefinition struct {
	Name      string
	Prefixes  []string
	TagFields []string
	Vector    VectorField
}

// Validate checks that the index definition is well-formed.
func (idx *IndexDefinition) Validate() error {
	if idx.Name == "" {
		return errors.New("index name is required")
	}
	if len(idx.Prefixes) == 0 {
		return errors.New("at least one key prefix is required")
	}
	if idx.Vector.Name == "" {
		return errors.New("vector field name is required")
	}
	if idx.Vector.Dim <= 0 {
		return errors.New("vector field requires positive DIM")
	}
	seen := make(map[string]bool)
	for _, f := range idx.TagFields {
		if f == "" {
			return errors.New("tag field name is required")
		}
		if seen[f] {
			return errors.New("duplicate tag field: " + f)
		}
		seen[f] = true
	}
	return nil
}
