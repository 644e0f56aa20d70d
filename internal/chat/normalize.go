package chat

import (
	"bytes"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/chatrag/backend/pkg/logger"
)

type Shape string

const (
	ShapeSingleChat Shape = "single_chat"
	ShapeWrapper    Shape = "wrapper"
	ShapeChatList   Shape = "chat_list"
)

type Normalized struct {
	Shape   Shape
	Records []Record
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Normalize parses raw transcript bytes and reduces them to a uniform record
// sequence. It fails with ErrSchema when the bytes are not JSON or the JSON
// matches no accepted layout.
func Normalize(raw []byte) (*Normalized, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: document is not valid JSON", ErrSchema)
	}
	return NormalizeResult(gjson.ParseBytes(raw))
}

func NormalizeResult(doc gjson.Result) (*Normalized, error) {
	var (
		shape Shape
		chats []gjson.Result
	)

	switch {
	case doc.IsObject() && doc.Get("messages").Exists():
		shape = ShapeSingleChat
		chats = []gjson.Result{doc}
	case doc.IsObject() && doc.Get("data").Exists():
		data := doc.Get("data")
		if !data.IsArray() {
			return nil, fmt.Errorf("%w: \"data\" is %s, want array", ErrSchema, data.Type)
		}
		shape = ShapeWrapper
		chats = data.Array()
	case doc.IsArray():
		shape = ShapeChatList
		chats = doc.Array()
	default:
		logger.Warn("Chat document structure not recognized, no messages or data key")
		return nil, fmt.Errorf("%w: want object with \"messages\" or \"data\", or an array", ErrSchema)
	}

	records := make([]Record, 0, len(chats))
	for _, c := range chats {
		records = append(records, recordFrom(c))
	}

	logger.Info("Chat document normalized",
		zap.String("shape", string(shape)),
		zap.Int("chats", len(records)),
	)

	return &Normalized{Shape: shape, Records: records}, nil
}

func recordFrom(c gjson.Result) Record {
	if !c.IsObject() {
		return Record{}
	}

	rec := Record{
		Engine:       field(c, "chat_engine"),
		Account:      field(c, "chat_user"),
		ChatID:       field(c, "chat_id"),
		Title:        field(c, "title"),
		CreationTime: field(c, "chat_creation_time"),
	}

	messages := c.Get("messages")
	if !messages.IsArray() {
		return rec
	}

	rec.HasTurns = true
	items := messages.Array()
	rec.Turns = make([]Turn, 0, len(items))
	for _, m := range items {
		rec.Turns = append(rec.Turns, Turn{
			TurnID:    field(m, "turn_id"),
			Author:    field(m, "author"),
			Timestamp: field(m, "turn_timestamp"),
			Message:   field(m, "message"),
		})
	}
	return rec
}

// field renders scalars as text so numeric and string identifiers compare equal.
func field(r gjson.Result, key string) string {
	v := r.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return v.String()
}
