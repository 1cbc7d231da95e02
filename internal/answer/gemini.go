// Package answer turns retrieval results into grounded one-line answers via
// the Gemini API. It batches question/context blocks under the model's
// prompt-size budget, asks for numbered answers, and parses them back out —
// a failed batch degrades to placeholder answers for that batch only.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"google.golang.org/genai"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/search"
)

// notAvailable is the placeholder emitted when the model returned nothing
// usable for a question. Callers always receive exactly one answer per input.
const notAvailable = "Answer not available."

// instructions is the system preamble prepended to every batch prompt.
const instructions = "You are a document assistant. For each question below, answer using only " +
	"the provided clause context. Do not use prior knowledge or make assumptions; " +
	"if the context does not mention it, say the document does not mention this. " +
	"Give your answers in this exact format:\n1. <answer>\n2. <answer>\n...\n"

// Config holds Gemini client settings.
type Config struct {
	// APIKey is the Google API key.
	APIKey string

	// Model is the Gemini model name. Defaults to "gemini-2.0-flash".
	Model string

	// MaxPromptChars bounds one request's prompt size. Gemini handles
	// ~30-32k characters safely; defaults to 28000 to leave headroom.
	MaxPromptChars int

	// MaxClausesPerQuestion caps how many candidate passages feed one
	// question's context block. Defaults to 3.
	MaxClausesPerQuestion int

	// MaxAnswerLen truncates each parsed answer. Defaults to 300.
	MaxAnswerLen int

	// RequestTimeout bounds one generate call. Defaults to 30s.
	RequestTimeout time.Duration
}

// Generator produces answers from retrieval results.
type Generator struct {
	// client is the Gemini API client.
	client *genai.Client

	// cfg holds the resolved configuration.
	cfg *Config
}

// New constructs a Generator. The API key is required; everything else
// defaults.
func New(ctx context.Context, cfg *Config) (*Generator, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("answer: GOOGLE_API_KEY is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = 28000
	}
	if cfg.MaxClausesPerQuestion <= 0 {
		cfg.MaxClausesPerQuestion = 3
	}
	if cfg.MaxAnswerLen <= 0 {
		cfg.MaxAnswerLen = 300
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("answer: create gemini client: %w", err)
	}

	return &Generator{client: client, cfg: cfg}, nil
}

// Answer returns one answer string per retrieval result, same length and
// order as the input. Results are grouped into batches that fit the prompt
// budget without splitting a question/context block; a batch whose request
// or parse fails yields placeholder answers for its questions only.
func (g *Generator) Answer(ctx context.Context, results []search.Result) []string {
	log := logging.FromContext(ctx)

	answers := make([]string, 0, len(results))
	batches := g.split(results)
	log.Debug("answer: batched questions",
		slog.Int("questions", len(results)),
		slog.Int("batches", len(batches)),
	)

	for i, b := range batches {
		batchAnswers, err := g.answerBatch(ctx, b)
		if err != nil {
			log.Warn("answer: batch failed",
				slog.Int("batch", i),
				slog.Int("questions", len(b)),
				slog.Any("error", err),
			)
			batchAnswers = make([]string, len(b))
			for j := range batchAnswers {
				batchAnswers[j] = notAvailable
			}
		}
		answers = append(answers, batchAnswers...)
	}

	return answers
}

// split groups results into batches whose rendered blocks fit
// MaxPromptChars. A single oversized block still forms its own batch.
func (g *Generator) split(results []search.Result) [][]search.Result {
	var (
		batches []([]search.Result)
		current []search.Result
		size    int
	)

	for _, res := range results {
		blockSize := len(g.block(0, res))
		if size+blockSize > g.cfg.MaxPromptChars && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, res)
		size += blockSize
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// block renders one question/context section of the prompt.
func (g *Generator) block(n int, res search.Result) string {
	clauses := res.Clauses
	if len(clauses) > g.cfg.MaxClausesPerQuestion {
		clauses = clauses[:g.cfg.MaxClausesPerQuestion]
	}
	context := "No relevant clauses available."
	if len(clauses) > 0 {
		context = strings.Join(clauses, "\n")
	}
	return fmt.Sprintf("%d. Question: %s\nContext:\n%s", n, res.Question, context)
}

// answerBatch sends one batch prompt and parses the numbered answers.
func (g *Generator) answerBatch(ctx context.Context, batch []search.Result) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.RequestTimeout)
	defer cancel()

	blocks := make([]string, len(batch))
	for i, res := range batch {
		blocks[i] = g.block(i+1, res)
	}
	prompt := instructions + "\n\n" + strings.Join(blocks, "\n\n")

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty model response")
	}

	return parseNumbered(text, len(batch), g.cfg.MaxAnswerLen), nil
}

// parseNumbered extracts answers from "N. <answer>" lines, padding with the
// placeholder until exactly want answers exist and dropping extras.
func parseNumbered(content string, want, maxLen int) []string {
	var answers []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] < '0' || line[0] > '9' {
			continue
		}
		_, rest, found := strings.Cut(line, ".")
		if !found {
			continue
		}
		ans := strings.TrimSpace(rest)
		if ans == "" {
			continue
		}
		answers = append(answers, truncateAnswer(ans, maxLen))
	}

	for len(answers) < want {
		answers = append(answers, notAvailable)
	}
	return answers[:want]
}

// truncateAnswer caps s at max bytes without splitting a UTF-8 rune.
func truncateAnswer(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
