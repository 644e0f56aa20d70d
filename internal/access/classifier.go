package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/chatrag/backend/pkg/logger"
)

// ErrClassification covers an unreachable classifier and responses that lack
// the expected category probabilities.
var ErrClassification = errors.New("classification failed")

// Invoker is a request/response capability, typically a Lambda function.
type Invoker interface {
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
}

type Category struct {
	Name        string  `json:"name"`
	Probability float64 `json:"probability"`
}

type Categorization struct {
	CategoryOne Category `json:"category_one"`
	CategoryTwo Category `json:"category_two"`
}

type Classifier struct {
	invoker Invoker
}

func NewClassifier(invoker Invoker) *Classifier {
	return &Classifier{invoker: invoker}
}

// Classify sends the event unchanged and parses the two category
// probabilities from the response.
func (c *Classifier) Classify(ctx context.Context, event json.RawMessage) (*Categorization, error) {
	if len(event) == 0 {
		event = json.RawMessage("{}")
	}
	resp, err := c.invoker.Invoke(ctx, event)
	if err != nil {
		logger.Error("Classifier invocation failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrClassification, err)
	}

	result, err := ParseCategorization(resp)
	if err != nil {
		logger.Error("Classifier response rejected", zap.Error(err), zap.ByteString("response", truncate(resp, 512)))
		return nil, err
	}
	return result, nil
}

// ParseCategorization accepts {"body": {...}}, a body encoded as a JSON
// string (API Gateway proxy style) or the categories at the top level.
func ParseCategorization(resp []byte) (*Categorization, error) {
	if !gjson.ValidBytes(resp) {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrClassification)
	}
	doc := gjson.ParseBytes(resp)
	if body := doc.Get("body"); body.Exists() {
		doc = body
		if body.Type == gjson.String {
			if !gjson.Valid(body.Str) {
				return nil, fmt.Errorf("%w: body is not valid JSON", ErrClassification)
			}
			doc = gjson.Parse(body.Str)
		}
	}

	one, err := category(doc, "category_one")
	if err != nil {
		return nil, err
	}
	two, err := category(doc, "category_two")
	if err != nil {
		return nil, err
	}
	return &Categorization{CategoryOne: one, CategoryTwo: two}, nil
}

func category(doc gjson.Result, key string) (Category, error) {
	prob := doc.Get(key + ".probability")
	if !prob.Exists() || prob.Type != gjson.Number {
		return Category{}, fmt.Errorf("%w: missing numeric %s.probability", ErrClassification, key)
	}
	p := prob.Float()
	if p < 0 || p > 1 {
		return Category{}, fmt.Errorf("%w: %s.probability %v outside [0,1]", ErrClassification, key, p)
	}
	return Category{Name: doc.Get(key + ".name").String(), Probability: p}, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
