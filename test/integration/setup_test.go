package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/domain/conversation"
	"github.com/intake/intake/internal/domain/intake"
	"github.com/intake/intake/internal/platform/telemetry"
)

// scriptedGenerator pops queued completions in order. When the queue is
// empty and loop is set, every further call returns loop. Safe for
// concurrent use.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []scriptedReply
	loop    string
}

type scriptedReply struct {
	text string
	err  error
}

func (g *scriptedGenerator) push(text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, scriptedReply{text: text})
}

func (g *scriptedGenerator) pushErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, scriptedReply{err: err})
}

func (g *scriptedGenerator) Complete(_ context.Context, _, _ string, _ intake.GenerateOptions) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.replies) == 0 {
		if g.loop != "" {
			return g.loop, nil
		}
		return "", fmt.Errorf("scripted generator queue exhausted")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r.text, r.err
}

// recordingContexts stands in for the retrieval store so the indexing
// paths run without sqlite.
type recordingContexts struct {
	mu        sync.Mutex
	snippets  []string
	exchanges int
	indexed   int
}

func (r *recordingContexts) RelevantContext(_ context.Context, _, _ string, _ int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snippets, nil
}

func (r *recordingContexts) AddExchange(_ context.Context, _, _, _, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exchanges++
	return nil
}

func (r *recordingContexts) AddPatientData(_ context.Context, _, _ string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed++
	return nil
}

func (r *recordingContexts) counts() (exchanges, indexed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exchanges, r.indexed
}

// stack wires the full request path the server assembles: echo routing,
// both domain handlers, memory stores, and a scripted generator.
type stack struct {
	e        *echo.Echo
	gen      *scriptedGenerator
	contexts *recordingContexts
	tp       *telemetry.TelemetryProvider
}

func newStack() *stack {
	gen := &scriptedGenerator{}
	contexts := &recordingContexts{}
	logger := zerolog.Nop()

	convSvc := conversation.NewService(conversation.NewMemoryMessageRepo())
	tp := telemetry.NewTelemetryProvider(telemetry.TelemetryConfig{ServiceName: "intake-test"})

	extractor := intake.NewExtractor(gen, intake.ExtractorConfig{
		Temperature: 0.1,
		MaxTokens:   1000,
		MaxRetries:  3,
	}, logger)

	svc := intake.NewService(intake.NewMemoryRecordRepo(), extractor, gen, contexts, convSvc, tp,
		intake.ServiceConfig{
			ReplyTemperature: 0.7,
			MaxTokens:        1000,
			MaxRetries:       3,
			ContextK:         5,
		}, logger)

	e := echo.New()
	apiV1 := e.Group("/api/v1")
	intake.NewHandler(svc).RegisterRoutes(apiV1)
	conversation.NewHandler(convSvc).RegisterRoutes(apiV1)

	return &stack{e: e, gen: gen, contexts: contexts, tp: tp}
}

// tryChat posts one turn and decodes the response. Safe to call from
// any goroutine; assertions stay with the caller.
func (s *stack) tryChat(patientID, conversationID, message string) (intake.ChatResponse, error) {
	var resp intake.ChatResponse
	body, _ := json.Marshal(intake.ChatMessage{
		Message:        message,
		PatientID:      patientID,
		ConversationID: conversationID,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/history", bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		return resp, fmt.Errorf("chat returned %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		return resp, fmt.Errorf("decode chat response: %w", err)
	}
	return resp, nil
}

func (s *stack) chat(t *testing.T, patientID, conversationID, message string) intake.ChatResponse {
	t.Helper()
	resp, err := s.tryChat(patientID, conversationID, message)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (s *stack) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *stack) patientHistory(t *testing.T, patientID string) intake.PatientRecord {
	t.Helper()
	rec := s.get(t, "/api/v1/patient/history/"+patientID)
	if rec.Code != http.StatusOK {
		t.Fatalf("patient history returned %d: %s", rec.Code, rec.Body.String())
	}
	var record intake.PatientRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode patient record: %v", err)
	}
	return record
}

// pushTurn queues one data turn: the extraction JSON then the reply.
func (s *stack) pushTurn(extractJSON, reply string) {
	s.gen.push(extractJSON)
	s.gen.push(reply)
}
