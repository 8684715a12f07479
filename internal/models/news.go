package models

import "time"

// Extraction status of a crawled article.
const (
	StatusSuccess = "Success"
	StatusFailure = "Failure"
)

// NewsDocument is a crawled article as stored in the record store.
// URL is the natural key; ID is assigned by the store on first insert.
// Revision grows by one on every upsert of the same URL.
type NewsDocument struct {
	ID         int64     `json:"id"`
	URL        string    `json:"url"`
	Topic      string    `json:"topic"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	Content    string    `json:"content"`
	Summary    string    `json:"summary"`
	Press      string    `json:"press"`
	Journalist string    `json:"journalist"`
	Date       time.Time `json:"date"`
	IsIndexed  bool      `json:"is_indexed"`
	Revision   int64     `json:"revision"`
}

// Chunk is one embedded window of a document as written to the vector index.
type Chunk struct {
	DBID      int64     `json:"db_id"`
	Index     int       `json:"-"`
	Topic     string    `json:"topic"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	Press     string    `json:"press"`
	Date      time.Time `json:"date"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
}

// Hit is a single similarity match returned by the vector index.
type Hit struct {
	DocumentID string  `json:"es_document_id"`
	DBID       int64   `json:"db_id"`
	Title      string  `json:"title"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}
