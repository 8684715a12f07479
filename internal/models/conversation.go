package models

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Session ties a conversation to exactly one user.
type Session struct {
	ID        string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is an append-only conversation turn.
type Message struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	Text          string    `json:"text"`
	Sender        Sender    `json:"sender"`
	OriginalDBIDs []int64   `json:"original_db_ids"`
	ESDocumentIDs []string  `json:"es_document_ids"`
	CreatedAt     time.Time `json:"created_at"`
}

// QueryResult is the response of one question/answer cycle. Answer and the
// id lists are nil when the corresponding step failed.
type QueryResult struct {
	UserID        string   `json:"user_id"`
	SessionID     string   `json:"session_id"`
	UserQuery     string   `json:"user_query"`
	Answer        *string  `json:"answer"`
	OriginalDBIDs []int64  `json:"original_db_ids"`
	ESDocumentIDs []string `json:"es_document_ids"`
	Error         string   `json:"error,omitempty"`
}
