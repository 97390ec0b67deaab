package main

import (
	"log"
	"time"
)

// TraceEvent summarizes one inference invocation: what was asked, how long it
// took, and how it ended.
type TraceEvent struct {
	RequestID   string
	Kind        string // "suggest" or "suggest_batch"
	BatchSize   int
	PromptChars int
	Latency     time.Duration
	Outcome     string // "ok", "inference_unavailable", "invalid_llm_response"
	Detail      string
}

// TraceSink accepts trace events fire-and-forget. Implementations may ship
// them anywhere; the engine never depends on them succeeding.
type TraceSink interface {
	Event(TraceEvent)
}

type nopSink struct{}

func (nopSink) Event(TraceEvent) {}

// logSink prints events through the standard logger.
type logSink struct{}

func (logSink) Event(e TraceEvent) {
	log.Printf("[trace] %s %s batch=%d prompt=%dB latency=%v outcome=%s %s",
		e.RequestID, e.Kind, e.BatchSize, e.PromptChars, e.Latency, e.Outcome, e.Detail)
}

// emitTrace delivers an event to the sink, swallowing anything the sink does
// wrong. A broken observer must never change a suggestion result.
func emitTrace(sink TraceSink, e TraceEvent) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("trace sink panicked: %v", r)
		}
	}()
	sink.Event(e)
}
