// Package chat turns exported chat transcripts into per-turn content units.
//
// Three JSON layouts are accepted: a single chat object carrying a "messages"
// array, a wrapper object whose "data" array holds chats, and a bare array of
// chats. Normalize reduces all of them to []Record; a Flattener then expands
// every turn into a ContentUnit tagged with chat, turn and accessibility
// metadata.
package chat

// Metadata keys shared by the ingestion and query paths. They double as the
// vector store payload field names.
const (
	KeyEngine        = "chat_engine"
	KeyAccount       = "chat_account"
	KeyChatID        = "chat_id"
	KeyTitle         = "title"
	KeyCreationTime  = "chat_creation_time"
	KeyTurnID        = "turn_id"
	KeyAuthor        = "author"
	KeyTurnTimestamp = "turn_timestamp"
	KeyAccessibility = "accessibility"
	KeyAccessScore   = "accessibility_confidence_score"
	KeyChunkIndex    = "chunk_index"
	KeyChunkID       = "chunk_id"
	KeyText          = "text"
)

const (
	LabelWork     = "work"
	LabelPersonal = "personal"
)

type Record struct {
	Engine       string
	Account      string
	ChatID       string
	Title        string
	CreationTime string
	Turns        []Turn
	// HasTurns is false when the source chat had no usable "messages" array.
	HasTurns bool
}

type Turn struct {
	TurnID    string
	Author    string
	Timestamp string
	Message   string
}

// Accessibility is the work/personal decision attached to every unit of one
// ingested document.
type Accessibility struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence_score"`
}

type Metadata struct {
	Engine        string  `json:"chat_engine"`
	Account       string  `json:"chat_account"`
	ChatID        string  `json:"chat_id"`
	Title         string  `json:"title"`
	CreationTime  string  `json:"chat_creation_time"`
	TurnID        string  `json:"turn_id"`
	Author        string  `json:"author"`
	TurnTimestamp string  `json:"turn_timestamp"`
	Accessibility string  `json:"accessibility"`
	AccessScore   float64 `json:"accessibility_confidence_score"`
}

// ContentUnit is one turn's text with its merged metadata.
type ContentUnit struct {
	Text     string
	Metadata Metadata
}

// Fields flattens the metadata into a payload map keyed by the Key* names.
func (m Metadata) Fields() map[string]any {
	return map[string]any{
		KeyEngine:        m.Engine,
		KeyAccount:       m.Account,
		KeyChatID:        m.ChatID,
		KeyTitle:         m.Title,
		KeyCreationTime:  m.CreationTime,
		KeyTurnID:        m.TurnID,
		KeyAuthor:        m.Author,
		KeyTurnTimestamp: m.TurnTimestamp,
		KeyAccessibility: m.Accessibility,
		KeyAccessScore:   m.AccessScore,
	}
}
