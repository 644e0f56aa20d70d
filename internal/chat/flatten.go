package chat

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/chatrag/backend/pkg/logger"
)

type FlattenOptions struct {
	DefaultEngine string
	DefaultUser   string
	StripHTML     bool
}

type Flattener struct {
	opts FlattenOptions
}

type FlattenResult struct {
	Units []ContentUnit
	// Chats counts every record seen, Skipped those without a turn collection.
	Chats   int
	Skipped int
}

func NewFlattener(opts FlattenOptions) *Flattener {
	return &Flattener{opts: opts}
}

// Flatten expands every turn of every valid record into a ContentUnit, in
// record then turn order. Records without turns are skipped and counted.
func (f *Flattener) Flatten(records []Record, access Accessibility) FlattenResult {
	result := FlattenResult{Chats: len(records)}

	for _, rec := range records {
		if !rec.HasTurns {
			logger.Warn("No messages found for chat, skipping", zap.String("chat_id", rec.ChatID))
			result.Skipped++
			continue
		}

		engine := rec.Engine
		if engine == "" {
			engine = f.opts.DefaultEngine
		}
		account := rec.Account
		if account == "" {
			account = f.opts.DefaultUser
		}

		for _, turn := range rec.Turns {
			text := turn.Message
			if f.opts.StripHTML {
				text = stripHTML(text)
			}
			result.Units = append(result.Units, ContentUnit{
				Text: text,
				Metadata: Metadata{
					Engine:        engine,
					Account:       account,
					ChatID:        rec.ChatID,
					Title:         rec.Title,
					CreationTime:  rec.CreationTime,
					TurnID:        turn.TurnID,
					Author:        turn.Author,
					TurnTimestamp: turn.Timestamp,
					Accessibility: access.Label,
					AccessScore:   access.Confidence,
				},
			})
		}
	}

	if len(result.Units) == 0 {
		logger.Info("No content units were created", zap.Int("chats", result.Chats), zap.Int("skipped", result.Skipped))
	} else {
		logger.Info("Content units created",
			zap.Int("units", len(result.Units)),
			zap.Int("chats", result.Chats),
			zap.Int("skipped", result.Skipped),
		)
	}

	return result
}

func stripHTML(text string) string {
	if !strings.ContainsRune(text, '<') {
		return text
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return text
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Text())
}
