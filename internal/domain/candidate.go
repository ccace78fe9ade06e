package domain

// Candidate is a query-time retrieval hit. It never outlives a single query.
type Candidate struct {
	ID             string
	Content        string
	VectorScore    float64
	GraphScore     float64
	HierarchyLevel int
	SourceID       string
	FileName       string
	PageNumber     int
	KBID           string
}
