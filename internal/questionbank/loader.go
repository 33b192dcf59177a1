// Package questionbank loads, validates and orders the questions of a session.
package questionbank

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/monateaches/assessment/internal/model"
)

//go:embed question.schema.json
var schemaJSON []byte

const schemaURL = "question.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func itemSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse question schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add question schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// LoadError reports a question bank that could not be used to start a session.
type LoadError struct {
	Source  string
	Dropped int
	Err     error
}

func (e *LoadError) Error() string {
	if e.Dropped > 0 {
		return fmt.Sprintf("load question bank %s (%d items dropped): %v", e.Source, e.Dropped, e.Err)
	}
	return fmt.Sprintf("load question bank %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Loader reads a question bank from a file path or an HTTP(S) URL.
type Loader struct {
	Source  string
	Shuffle bool
	Limit   int    // 0 means all questions
	Topic   string // empty means all topics

	// Client fetches remote banks; http.DefaultClient when nil.
	Client *http.Client
	// Rand drives the shuffle; the global source when nil.
	Rand *rand.Rand
}

// Load reads and validates the bank, then fixes its order for one session.
// Invalid items are dropped with a warning; an empty result is a LoadError.
func (l *Loader) Load(ctx context.Context) (*Bank, error) {
	data, err := l.read(ctx)
	if err != nil {
		return nil, &LoadError{Source: l.Source, Err: err}
	}
	questions, dropped, err := Parse(data, formatFor(l.Source))
	if err != nil {
		return nil, &LoadError{Source: l.Source, Dropped: dropped, Err: err}
	}

	if l.Topic != "" {
		filtered := questions[:0]
		for _, q := range questions {
			if strings.EqualFold(q.Topic, l.Topic) {
				filtered = append(filtered, q)
			}
		}
		questions = filtered
	}
	if len(questions) == 0 {
		return nil, &LoadError{Source: l.Source, Dropped: dropped, Err: fmt.Errorf("no valid questions")}
	}

	if l.Shuffle {
		swap := func(i, j int) { questions[i], questions[j] = questions[j], questions[i] }
		if l.Rand != nil {
			l.Rand.Shuffle(len(questions), swap)
		} else {
			rand.Shuffle(len(questions), swap)
		}
	}
	if l.Limit > 0 && l.Limit < len(questions) {
		questions = questions[:l.Limit]
	}

	slog.Debug("question bank loaded", "source", l.Source, "count", len(questions), "dropped", dropped, "shuffled", l.Shuffle)
	return &Bank{questions: questions}, nil
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(l.Source, "http://") && !strings.HasPrefix(l.Source, "https://") {
		return os.ReadFile(l.Source)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.Source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

// Format is the encoding of a question bank document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func formatFor(source string) Format {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Parse decodes a bank document and validates every item. It returns the
// surviving questions in document order and the number of dropped items.
func Parse(data []byte, format Format) ([]model.Question, int, error) {
	if format == FormatYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, 0, fmt.Errorf("parse yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, 0, fmt.Errorf("convert yaml: %w", err)
		}
		data = converted
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("parse json: %w", err)
	}

	sch, err := itemSchema()
	if err != nil {
		return nil, 0, err
	}

	var questions []model.Question
	seen := make(map[string]bool, len(raw))
	dropped := 0
	for i, r := range raw {
		q, err := decodeItem(sch, r, i)
		if err == nil && seen[q.ID] {
			err = fmt.Errorf("duplicate id %q", q.ID)
		}
		if err != nil {
			slog.Warn("dropping invalid question", "index", i, "error", err)
			dropped++
			continue
		}
		seen[q.ID] = true
		questions = append(questions, q)
	}
	if len(questions) == 0 {
		return nil, dropped, fmt.Errorf("no valid questions")
	}
	return questions, dropped, nil
}

func decodeItem(sch *jsonschema.Schema, r json.RawMessage, index int) (model.Question, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(r))
	if err != nil {
		return model.Question{}, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return model.Question{}, fmt.Errorf("item is not an object")
	}
	applyLegacyDefaults(obj, index)
	if err := sch.Validate(obj); err != nil {
		return model.Question{}, err
	}

	normalized, err := json.Marshal(obj)
	if err != nil {
		return model.Question{}, err
	}
	var qi model.QuestionImport
	if err := json.Unmarshal(normalized, &qi); err != nil {
		return model.Question{}, err
	}
	return toQuestion(qi)
}

// applyLegacyDefaults fills fields absent from the original bank layout, which
// carried neither identifiers nor types.
func applyLegacyDefaults(obj map[string]any, index int) {
	switch id := obj["id"].(type) {
	case nil:
		if _, present := obj["id"]; !present {
			obj["id"] = "q" + strconv.Itoa(index+1)
		}
	case json.Number:
		obj["id"] = id.String()
	}
	if _, present := obj["type"]; !present {
		obj["type"] = string(model.KindFreeText)
	}
}

func toQuestion(qi model.QuestionImport) (model.Question, error) {
	q := model.Question{
		ID:             qi.ID,
		Kind:           model.QuestionKind(qi.Type),
		Prompt:         qi.Question,
		Passage:        qi.Passage,
		Image:          qi.Image,
		CorrectDisplay: qi.CorrectDisplay,
		Explanation:    qi.Explanation,
		Topic:          qi.Topic,
		Points:         qi.Points,
	}
	if q.Points <= 0 {
		q.Points = 1
	}

	switch q.Kind {
	case model.KindSingleChoice:
		key, ok := qi.CorrectAnswer.(string)
		if !ok {
			return q, fmt.Errorf("question %s: correct answer must be an option key", q.ID)
		}
		keys := make(map[string]bool, len(qi.Options))
		for _, o := range qi.Options {
			if keys[o.Key] {
				return q, fmt.Errorf("question %s: duplicate option key %q", q.ID, o.Key)
			}
			keys[o.Key] = true
		}
		if !keys[key] {
			return q, fmt.Errorf("question %s: correct key %q is not an option", q.ID, key)
		}
		q.Options = qi.Options
		q.Correct = model.ChoiceKey(key)
	case model.KindFreeText:
		switch v := qi.CorrectAnswer.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return q, fmt.Errorf("question %s: empty correct answer", q.ID)
			}
			q.Correct = model.TextAnswer(v)
		case float64:
			q.Correct = model.TextAnswer(model.FormatNumber(v))
		default:
			return q, fmt.Errorf("question %s: correct answer must be text", q.ID)
		}
	case model.KindNumeric:
		switch v := qi.CorrectAnswer.(type) {
		case float64:
			q.Correct = model.NumberAnswer(v)
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return q, fmt.Errorf("question %s: correct answer %q is not a number", q.ID, v)
			}
			q.Correct = model.NumberAnswer(n)
		default:
			return q, fmt.Errorf("question %s: correct answer must be a number", q.ID)
		}
	default:
		return q, fmt.Errorf("question %s: unknown type %q", q.ID, qi.Type)
	}
	return q, nil
}
