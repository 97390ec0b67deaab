package main

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeClient) complete(_ context.Context, prompt string) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var out string
	if i < len(f.responses) {
		out = f.responses[i]
	}
	return out, err
}

type recordSink struct {
	events []TraceEvent
}

func (r *recordSink) Event(e TraceEvent) { r.events = append(r.events, e) }

type panicSink struct{}

func (panicSink) Event(TraceEvent) { panic("sink exploded") }

var testCategories = []string{"Food", "Transport", "Groceries"}

func testBatch(n int) []Txn {
	txns := make([]Txn, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range txns {
		txns[i] = Txn{Index: i, Date: base, Amount: -5, Desc: "STARBUCKS"}
	}
	return txns
}

func TestSuggest(t *testing.T) {
	t.Run("happyPath", func(t *testing.T) {
		client := &fakeClient{responses: []string{`{"category": "food", "confidence": 0.9}`}}
		sink := &recordSink{}
		engine := newSuggestEngine(client, sink)

		sug, err := engine.Suggest(context.Background(), testBatch(1)[0], nil, testCategories)
		require.NoError(t, err)
		require.Equal(t, "Food", sug.Category)
		require.Equal(t, 0.9, sug.Confidence)

		require.Len(t, sink.events, 1)
		require.Equal(t, "ok", sink.events[0].Outcome)
		require.Equal(t, "suggest", sink.events[0].Kind)
		require.Equal(t, 1, sink.events[0].BatchSize)
		require.NotEmpty(t, sink.events[0].RequestID)
	})

	t.Run("fencedResponseStillParses", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			"```json\n{\"category\": \"Transport\", \"confidence\": 0.7}\n```",
		}}
		engine := newSuggestEngine(client, nil)

		sug, err := engine.Suggest(context.Background(), testBatch(1)[0], nil, testCategories)
		require.NoError(t, err)
		require.Equal(t, "Transport", sug.Category)
	})

	t.Run("unknownCategory", func(t *testing.T) {
		client := &fakeClient{responses: []string{`{"category": "Yachts", "confidence": 0.9}`}}
		sink := &recordSink{}
		engine := newSuggestEngine(client, sink)

		_, err := engine.Suggest(context.Background(), testBatch(1)[0], nil, testCategories)
		var invalid *InvalidResponseError
		require.True(t, errors.As(err, &invalid))
		require.Len(t, sink.events, 1)
		require.Equal(t, "invalid_llm_response", sink.events[0].Outcome)
	})

	t.Run("confidenceOutOfRange", func(t *testing.T) {
		client := &fakeClient{responses: []string{`{"category": "Food", "confidence": 1.5}`}}
		engine := newSuggestEngine(client, nil)

		_, err := engine.Suggest(context.Background(), testBatch(1)[0], nil, testCategories)
		var invalid *InvalidResponseError
		require.True(t, errors.As(err, &invalid))
	})

	t.Run("sinkPanicDoesNotAffectResult", func(t *testing.T) {
		client := &fakeClient{responses: []string{`{"category": "Food", "confidence": 0.5}`}}
		engine := newSuggestEngine(client, panicSink{})

		sug, err := engine.Suggest(context.Background(), testBatch(1)[0], nil, testCategories)
		require.NoError(t, err)
		require.Equal(t, "Food", sug.Category)
	})
}

func TestSuggestBatch(t *testing.T) {
	batchResponse := `{"suggestions": [
		{"index": 0, "category": "food"},
		{"index": 1, "category": "Transport"}
	]}`

	t.Run("happyPath", func(t *testing.T) {
		client := &fakeClient{responses: []string{batchResponse}}
		sink := &recordSink{}
		engine := newSuggestEngine(client, sink)

		out, err := engine.SuggestBatch(context.Background(), testBatch(2), nil, testCategories)
		require.NoError(t, err)
		require.Equal(t, []IndexedSuggestion{
			{Index: 0, Category: "Food"},
			{Index: 1, Category: "Transport"},
		}, out)
		require.Equal(t, 1, client.calls)

		require.Len(t, sink.events, 1)
		require.Equal(t, "ok", sink.events[0].Outcome)
		require.Equal(t, "suggest_batch", sink.events[0].Kind)
		require.Equal(t, 2, sink.events[0].BatchSize)
	})

	t.Run("emptyBatch", func(t *testing.T) {
		client := &fakeClient{}
		sink := &recordSink{}
		engine := newSuggestEngine(client, sink)

		out, err := engine.SuggestBatch(context.Background(), nil, nil, testCategories)
		require.NoError(t, err)
		require.Nil(t, out)
		require.Zero(t, client.calls)
		require.Empty(t, sink.events)
	})

	t.Run("oversizeBatchRejected", func(t *testing.T) {
		client := &fakeClient{}
		engine := newSuggestEngine(client, nil)

		_, err := engine.SuggestBatch(context.Background(), testBatch(6), nil, testCategories)
		require.True(t, errors.Is(err, ErrBatchTooLarge))
		require.Zero(t, client.calls)
	})

	t.Run("wrongSuggestionCount", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			`{"suggestions": [{"index": 0, "category": "Food"}]}`,
		}}
		sink := &recordSink{}
		engine := newSuggestEngine(client, sink)

		_, err := engine.SuggestBatch(context.Background(), testBatch(5), nil, testCategories)
		var invalid *InvalidResponseError
		require.True(t, errors.As(err, &invalid))
		require.Len(t, sink.events, 1)
		require.Equal(t, "invalid_llm_response", sink.events[0].Outcome)
	})

	t.Run("duplicateIndex", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			`{"suggestions": [{"index": 0, "category": "Food"}, {"index": 0, "category": "Food"}]}`,
		}}
		engine := newSuggestEngine(client, nil)

		_, err := engine.SuggestBatch(context.Background(), testBatch(2), nil, testCategories)
		var invalid *InvalidResponseError
		require.True(t, errors.As(err, &invalid))
	})

	t.Run("indexOutOfRange", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			`{"suggestions": [{"index": 0, "category": "Food"}, {"index": 7, "category": "Food"}]}`,
		}}
		engine := newSuggestEngine(client, nil)

		_, err := engine.SuggestBatch(context.Background(), testBatch(2), nil, testCategories)
		var invalid *InvalidResponseError
		require.True(t, errors.As(err, &invalid))
	})

	t.Run("unknownLabelFailsWholeBatch", func(t *testing.T) {
		client := &fakeClient{responses: []string{
			`{"suggestions": [{"index": 0, "category": "Food"}, {"index": 1, "category": "Yachts"}]}`,
		}}
		engine := newSuggestEngine(client, nil)

		_, err := engine.SuggestBatch(context.Background(), testBatch(2), nil, testCategories)
		var invalid *InvalidResponseError
		require.True(t, errors.As(err, &invalid))
	})

	t.Run("transportFailureNotRetried", func(t *testing.T) {
		client := &fakeClient{errs: []error{errors.New("connection refused")}}
		sink := &recordSink{}
		engine := newSuggestEngine(client, sink)

		_, err := engine.SuggestBatch(context.Background(), testBatch(2), nil, testCategories)
		var unavailable *InferenceUnavailableError
		require.True(t, errors.As(err, &unavailable))
		require.Equal(t, 1, client.calls)
		require.Len(t, sink.events, 1)
		require.Equal(t, "inference_unavailable", sink.events[0].Outcome)
	})

	t.Run("timeoutRetriedExactlyOnce", func(t *testing.T) {
		client := &fakeClient{
			errs:      []error{context.DeadlineExceeded, nil},
			responses: []string{"", batchResponse},
		}
		engine := newSuggestEngine(client, nil)

		out, err := engine.SuggestBatch(context.Background(), testBatch(2), nil, testCategories)
		require.NoError(t, err)
		require.Len(t, out, 2)
		require.Equal(t, 2, client.calls)
	})

	t.Run("persistentTimeoutGivesUpAfterRetry", func(t *testing.T) {
		client := &fakeClient{errs: []error{context.DeadlineExceeded, context.DeadlineExceeded}}
		engine := newSuggestEngine(client, nil)

		_, err := engine.SuggestBatch(context.Background(), testBatch(2), nil, testCategories)
		var unavailable *InferenceUnavailableError
		require.True(t, errors.As(err, &unavailable))
		require.Equal(t, 2, client.calls)
	})

	t.Run("promptCarriesLabelsAndHistory", func(t *testing.T) {
		client := &fakeClient{responses: []string{batchResponse}}
		engine := newSuggestEngine(client, nil)

		history := []HistoricalExample{{Desc: "WHOLEFDS MKT", Category: "Groceries"}}
		_, err := engine.SuggestBatch(context.Background(), testBatch(2), history, testCategories)
		require.NoError(t, err)
		require.Contains(t, client.prompts[0], "- Groceries\n")
		require.Contains(t, client.prompts[0], "WHOLEFDS MKT")
	})
}
