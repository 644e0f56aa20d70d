package models

import "time"

// IngestionRun is the ledger entry written for every ingest call, including
// failed ones.
type IngestionRun struct {
	ID            string
	SourceURI     string
	Outcome       string
	Shape         string
	Chats         int
	SkippedChats  int
	Units         int
	Chunks        int
	Accessibility string
	Confidence    float64
	Error         string
	LatencyMS     int64
	CreatedAt     time.Time
}

type QueryRecord struct {
	ID             string
	UserFilter     string
	QueryText      string
	Answer         string
	CandidateCount int
	LatencyMS      int64
	CreatedAt      time.Time
	Citations      []QueryCitation
}

type QueryCitation struct {
	ID        int    `json:"-"`
	QueryID   string `json:"-"`
	Marker    string `json:"source_id"`
	Number    int    `json:"number"`
	ChunkID   string `json:"chunk_id"`
	ChatID    string `json:"chat_id"`
	TurnID    string `json:"turn_id"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
}
