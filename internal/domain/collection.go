package domain

// SourceType identifies where a document originated.
type SourceType string

const (
	// SourceSECFiling marks chunks from SEC filings.
	SourceSECFiling SourceType = "sec_filing"
	// SourceNewsArticle marks chunks from news articles.
	SourceNewsArticle SourceType = "news_article"
)

// Collection names. Exactly two collections exist, one per source type,
// each independently queryable and independently clearable.
const (
	CollectionFilings = "sec_filings"
	CollectionNews    = "news_articles"
)

// CollectionForSource maps a source type to its collection name.
func CollectionForSource(st SourceType) (string, bool) {
	switch st {
	case SourceSECFiling:
		return CollectionFilings, true
	case SourceNewsArticle:
		return CollectionNews, true
	default:
		return "", false
	}
}

// KnownCollection reports whether name is one of the configured collections.
func KnownCollection(name string) bool {
	return name == CollectionFilings || name == CollectionNews
}

// CollectionStats summarizes a collection's contents.
type CollectionStats struct {
	ChunkCount    int `json:"chunk_count"`
	DocumentCount int `json:"document_count"`
}
