package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// Batches beyond ~5-10 transactions measurably degrade suggestion
	// quality, so the engine enforces the bound instead of trusting callers.
	maxSuggestBatch = 5

	defaultHistoryLimit   = 100
	defaultInferTimeout   = 30 * time.Second
	defaultInferMaxTokens = 2048
)

// Suggestion is a single-transaction proposal.
type Suggestion struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// IndexedSuggestion is one entry of a batch result, aligned to input order by
// Index (the position within the submitted batch).
type IndexedSuggestion struct {
	Index    int    `json:"index"`
	Category string `json:"category"`
}

// inferenceClient is the transport seam: prompt in, raw text out. The real
// implementation talks to an Anthropic-compatible endpoint; tests inject a
// fake.
type inferenceClient interface {
	complete(ctx context.Context, prompt string) (string, error)
}

type anthropicClient struct {
	client anthropic.Client
	model  string
}

func newAnthropicClient(apiKey, baseURL, model string) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		// Point at a locally hosted inference server speaking the same API.
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), model: model}
}

func (a *anthropicClient) complete(ctx context.Context, prompt string) (string, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: defaultInferMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var text string
	for _, block := range message.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

// suggestEngine proposes categories for uncategorized rows by invoking the
// inference capability once per call, never once per transaction. It holds no
// store locks while waiting; accepted results are written back by the caller.
type suggestEngine struct {
	client       inferenceClient
	sink         TraceSink
	timeout      time.Duration
	historyLimit int
}

func newSuggestEngine(client inferenceClient, sink TraceSink) *suggestEngine {
	if sink == nil {
		sink = nopSink{}
	}
	return &suggestEngine{
		client:       client,
		sink:         sink,
		timeout:      defaultInferTimeout,
		historyLimit: defaultHistoryLimit,
	}
}

func isTransportTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// invoke runs one inference call under the engine timeout, retrying exactly
// once on a transport-level timeout. Structural problems with the response are
// never retried here; those belong to the parser. Exactly one trace event is
// emitted per invocation: here on transport failure, otherwise by ok/invalid
// once the response has been parsed.
func (e *suggestEngine) invoke(ctx context.Context, kind, prompt string, batchSize int) (string, TraceEvent, error) {
	ev := TraceEvent{
		RequestID:   uuid.NewString(),
		Kind:        kind,
		BatchSize:   batchSize,
		PromptChars: len(prompt),
	}
	start := time.Now()

	call := func() (string, error) {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return e.client.complete(cctx, prompt)
	}

	out, err := call()
	if err != nil && isTransportTimeout(err) {
		out, err = call()
	}
	ev.Latency = time.Since(start)

	if err != nil {
		ev.Outcome = "inference_unavailable"
		ev.Detail = err.Error()
		emitTrace(e.sink, ev)
		return "", ev, &InferenceUnavailableError{Err: err}
	}
	return out, ev, nil
}

func (e *suggestEngine) ok(ev TraceEvent) {
	ev.Outcome = "ok"
	emitTrace(e.sink, ev)
}

func (e *suggestEngine) invalid(ev TraceEvent, reason string) error {
	ev.Outcome = "invalid_llm_response"
	ev.Detail = reason
	emitTrace(e.sink, ev)
	return &InvalidResponseError{Reason: reason}
}

// Suggest proposes a category for one transaction.
func (e *suggestEngine) Suggest(ctx context.Context, t Txn,
	history []HistoricalExample, categories []string) (Suggestion, error) {

	var empty Suggestion
	prompt := buildSinglePrompt(t, boundHistory(history, e.historyLimit), categories)
	raw, ev, err := e.invoke(ctx, "suggest", prompt, 1)
	if err != nil {
		return empty, err
	}

	var sug Suggestion
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &sug); err != nil {
		return empty, e.invalid(ev, fmt.Sprintf("unparseable JSON: %v", err))
	}
	canonical, ok := labelIn(sug.Category, categories)
	if !ok {
		return empty, e.invalid(ev,
			fmt.Sprintf("category %q not in registry", sug.Category))
	}
	sug.Category = canonical
	if sug.Confidence < 0 || sug.Confidence > 1 {
		return empty, e.invalid(ev,
			fmt.Sprintf("confidence %v out of range", sug.Confidence))
	}
	e.ok(ev)
	return sug, nil
}

// SuggestBatch proposes categories for up to maxSuggestBatch transactions in a
// single inference call. The result is aligned to input order; any structural
// defect fails the whole call so callers degrade to manual categorization
// instead of silently-wrong auto-assignment.
func (e *suggestEngine) SuggestBatch(ctx context.Context, txns []Txn,
	history []HistoricalExample, categories []string) ([]IndexedSuggestion, error) {

	if len(txns) == 0 {
		return nil, nil
	}
	if len(txns) > maxSuggestBatch {
		return nil, errors.Wrapf(ErrBatchTooLarge, "%d transactions, limit %d",
			len(txns), maxSuggestBatch)
	}

	prompt := buildBatchPrompt(txns, boundHistory(history, e.historyLimit), categories)
	raw, ev, err := e.invoke(ctx, "suggest_batch", prompt, len(txns))
	if err != nil {
		return nil, err
	}

	var resp struct {
		Suggestions []IndexedSuggestion `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &resp); err != nil {
		return nil, e.invalid(ev, fmt.Sprintf("unparseable JSON: %v", err))
	}
	if len(resp.Suggestions) != len(txns) {
		return nil, e.invalid(ev, fmt.Sprintf("got %d suggestions for %d transactions",
			len(resp.Suggestions), len(txns)))
	}

	seen := make(map[int]bool)
	out := make([]IndexedSuggestion, len(txns))
	for _, sug := range resp.Suggestions {
		if sug.Index < 0 || sug.Index >= len(txns) {
			return nil, e.invalid(ev, fmt.Sprintf("index %d out of range", sug.Index))
		}
		if seen[sug.Index] {
			return nil, e.invalid(ev, fmt.Sprintf("duplicate index %d", sug.Index))
		}
		seen[sug.Index] = true
		canonical, ok := labelIn(sug.Category, categories)
		if !ok {
			return nil, e.invalid(ev,
				fmt.Sprintf("category %q not in registry", sug.Category))
		}
		out[sug.Index] = IndexedSuggestion{Index: sug.Index, Category: canonical}
	}
	e.ok(ev)
	return out, nil
}

func boundHistory(history []HistoricalExample, limit int) []HistoricalExample {
	if limit > 0 && len(history) > limit {
		return history[:limit]
	}
	return history
}

// labelIn matches case-insensitively against the closed label space and
// returns the canonical display form.
func labelIn(label string, categories []string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(label))
	for _, c := range categories {
		if strings.ToLower(c) == want {
			return c, true
		}
	}
	return "", false
}

func writeCommonPrompt(b *strings.Builder, history []HistoricalExample, categories []string) {
	b.WriteString("You are a financial transaction categorization expert.\n\n")
	b.WriteString("Use ONLY the following categories:\n")
	for _, c := range categories {
		b.WriteString("- " + c + "\n")
	}
	b.WriteString("\n")
	if len(history) > 0 {
		b.WriteString("Previously categorized transactions, newest first:\n")
		for _, ex := range history {
			fmt.Fprintf(b, "- %q -> %s\n", ex.Desc, ex.Category)
		}
		b.WriteString("\n")
	}
	b.WriteString("Rules:\n")
	b.WriteString("- Category must be EXACTLY one of the categories shown above.\n")
	b.WriteString("- Output STRICT JSON only: no comments, no trailing commas, no extra text.\n")
	b.WriteString("- Do NOT wrap the response in code fences or Markdown.\n\n")
}

func buildSinglePrompt(t Txn, history []HistoricalExample, categories []string) string {
	var b strings.Builder
	writeCommonPrompt(&b, history, categories)
	b.WriteString("Categorize this transaction:\n")
	fmt.Fprintf(&b, "date=%s amount=%.2f description=%q\n\n",
		t.Date.Format("2006-01-02"), t.Amount, t.Desc)
	b.WriteString("Return a JSON object: {\"category\": \"...\", \"confidence\": 0.0-1.0}\n")
	return b.String()
}

func buildBatchPrompt(txns []Txn, history []HistoricalExample, categories []string) string {
	var b strings.Builder
	writeCommonPrompt(&b, history, categories)
	fmt.Fprintf(&b, "Categorize these %d transactions:\n", len(txns))
	for i, t := range txns {
		fmt.Fprintf(&b, "%d: date=%s amount=%.2f description=%q\n",
			i, t.Date.Format("2006-01-02"), t.Amount, t.Desc)
	}
	b.WriteString("\nReturn a JSON object:\n")
	b.WriteString("{\"suggestions\": [{\"index\": 0, \"category\": \"...\"}, ...]}\n")
	b.WriteString("Return exactly one suggestion per transaction, index matching the input position.\n")
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk when the model
// ignores the strict-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx != -1 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
