package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/platform/telemetry"
)

// ContextProvider supplies similarity-ranked snippets from prior turns
// and indexes new material as the interview progresses. Every method
// may fail without failing the turn.
type ContextProvider interface {
	RelevantContext(ctx context.Context, query, patientID string, k int) ([]string, error)
	AddExchange(ctx context.Context, conversationID, patientID, section, message, response string) error
	AddPatientData(ctx context.Context, patientID, section string, data interface{}) error
}

// TurnSink records completed exchanges in the conversation log.
type TurnSink interface {
	AppendExchange(ctx context.Context, conversationID, patientID, section, userMessage, botResponse string) error
}

// ServiceConfig tunes the turn service.
type ServiceConfig struct {
	ReplyTemperature float64
	MaxTokens        int
	MaxRetries       int
	ContextK         int
}

// Service drives one interview turn end to end: clean, retrieve
// context, extract, merge, persist, reply, log. Turns for the same
// patient are serialized by a per-patient lock held for the whole turn;
// distinct patients proceed in parallel.
type Service struct {
	records   RecordRepository
	extractor *Extractor
	gen       Generator
	contexts  ContextProvider              // optional
	turns     TurnSink                     // optional
	metrics   *telemetry.TelemetryProvider // optional
	cfg       ServiceConfig
	logger    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(records RecordRepository, extractor *Extractor, gen Generator,
	contexts ContextProvider, turns TurnSink, metrics *telemetry.TelemetryProvider,
	cfg ServiceConfig, logger zerolog.Logger) *Service {
	return &Service{
		records:   records,
		extractor: extractor,
		gen:       gen,
		contexts:  contexts,
		turns:     turns,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// patientLock returns the mutex serializing turns for one patient.
func (s *Service) patientLock(patientID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[patientID]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[patientID] = lk
	}
	return lk
}

// HandleTurn processes one patient message. Unreachable-generator turns
// answer with an apology and leave the record untouched; a non-nil
// error means the turn itself could not run (storage failure or
// cancellation) and nothing was persisted for it.
func (s *Service) HandleTurn(ctx context.Context, msg ChatMessage) (ChatResponse, error) {
	if strings.TrimSpace(msg.PatientID) == "" {
		return ChatResponse{}, fmt.Errorf("patient_id is required")
	}

	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	start := time.Now()

	lk := s.patientLock(msg.PatientID)
	lk.Lock()
	defer lk.Unlock()

	rec, err := s.records.GetOrCreate(ctx, msg.PatientID)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("loading patient record: %w", err)
	}

	Clean(rec)

	if rec.CurrentSection == nil {
		s.appendConversation(ctx, conversationID, msg.PatientID, "", msg.Message, terminalMessage)
		return s.respond(rec, conversationID, terminalMessage, false, ""), nil
	}
	section := *rec.CurrentSection

	snippets := s.relevantContext(ctx, msg.Message, msg.PatientID)

	// Snapshot the reply prompt before the merge mutates the record.
	replyPrompt := replySystemPrompt(section, rec, joinSnippets(snippets))

	result, err := s.extractor.Extract(ctx, msg.Message, rec, snippets)
	s.recordLLMCall("extract", err)
	if err != nil {
		s.logger.Error().Err(err).
			Str("patient_id", msg.PatientID).
			Str("section", string(section)).
			Msg("extraction call failed")
		s.recordTurn(section, "generator_error", start)
		return s.respond(rec, conversationID, apologyMessage, false, err.Error()), nil
	}
	if reason := extractionFailureReason(result); reason != "" {
		s.recordExtractionFailure(reason)
	}

	if err := ctx.Err(); err != nil {
		return ChatResponse{}, err
	}

	wasComplete := rec.CompletionStatus[section]
	changed := Merge(rec, result)

	if err := s.records.Save(ctx, rec); err != nil {
		return ChatResponse{}, fmt.Errorf("saving patient record: %w", err)
	}
	if !wasComplete && rec.CompletionStatus[section] {
		s.recordSectionCompleted(section)
	}

	if changed && s.contexts != nil {
		if err := s.contexts.AddPatientData(ctx, msg.PatientID, string(section), result.Payload); err != nil {
			s.logger.Warn().Err(err).Str("patient_id", msg.PatientID).Msg("indexing extracted data failed")
		}
	}

	reply := s.generateReply(ctx, replyPrompt, msg.Message, rec, result)

	s.appendConversation(ctx, conversationID, msg.PatientID, string(section), msg.Message, reply)
	if s.contexts != nil {
		if err := s.contexts.AddExchange(ctx, conversationID, msg.PatientID, string(section), msg.Message, reply); err != nil {
			s.logger.Warn().Err(err).Str("patient_id", msg.PatientID).Msg("indexing exchange failed")
		}
	}

	outcome := "no_change"
	switch {
	case changed:
		outcome = "updated"
	case result.NeedsClarification:
		outcome = "clarification"
	}
	s.recordTurn(section, outcome, start)

	return s.respond(rec, conversationID, reply, changed, ""), nil
}

// PatientHistory returns a copy of the patient's record, safe to read
// while turns for the same patient are in flight.
func (s *Service) PatientHistory(ctx context.Context, patientID string) (*PatientRecord, error) {
	lk := s.patientLock(patientID)
	lk.Lock()
	defer lk.Unlock()

	rec, err := s.records.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// ListRecords pages through all stored records.
func (s *Service) ListRecords(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	return s.records.List(ctx, limit, offset)
}

func (s *Service) respond(rec *PatientRecord, conversationID, reply string, updated bool, errMsg string) ChatResponse {
	return ChatResponse{
		Response:         reply,
		ConversationID:   conversationID,
		Speaker:          "bot",
		DataUpdated:      updated,
		CompletionStatus: rec.CompletionCopy(),
		Error:            errMsg,
	}
}

func (s *Service) relevantContext(ctx context.Context, query, patientID string) []string {
	if s.contexts == nil {
		return nil
	}
	snippets, err := s.contexts.RelevantContext(ctx, query, patientID, s.cfg.ContextK)
	if err != nil {
		s.logger.Warn().Err(err).Str("patient_id", patientID).Msg("context retrieval failed")
		return nil
	}
	return snippets
}

// generateReply produces the conversational reply at the configured
// reply temperature. Failures degrade to a canned follow-up so the turn
// still answers; the extraction is already merged by this point.
func (s *Service) generateReply(ctx context.Context, system, message string, rec *PatientRecord, result ExtractionResult) string {
	raw, err := s.gen.Complete(ctx, system, replyUserPrompt(message), GenerateOptions{
		Temperature: s.cfg.ReplyTemperature,
		MaxTokens:   s.cfg.MaxTokens,
		MaxRetries:  s.cfg.MaxRetries,
	})
	s.recordLLMCall("reply", err)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reply generation failed, using fallback")
		return s.fallbackReply(rec, result)
	}

	reply := filterLeakedInstructions(raw)
	if reply == "" {
		return s.fallbackReply(rec, result)
	}
	return reply
}

// fallbackReply is the canned next step when reply generation fails:
// the pending clarification if one exists, the terminal message once
// the interview is done, or a generic question for the open section.
func (s *Service) fallbackReply(rec *PatientRecord, result ExtractionResult) string {
	if result.ClarificationMessage != "" {
		return result.ClarificationMessage
	}
	if rec.CurrentSection == nil {
		return terminalMessage
	}
	return "Thank you. Could you tell me more about your " + sectionTopic[*rec.CurrentSection] + "?"
}

func (s *Service) appendConversation(ctx context.Context, conversationID, patientID, section, userMessage, botResponse string) {
	if s.turns == nil {
		return
	}
	if err := s.turns.AppendExchange(ctx, conversationID, patientID, section, userMessage, botResponse); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("conversation log append failed")
	}
}

func extractionFailureReason(result ExtractionResult) string {
	switch result.Error {
	case ErrMalformedResponse.Error():
		return "malformed"
	case ErrSchemaViolation.Error():
		return "schema"
	case ErrValidationFailure.Error():
		return "validation"
	case ErrEmptyMessage.Error():
		return "empty_message"
	}
	return ""
}

func (s *Service) recordTurn(section Section, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordTurn(string(section), outcome)
	s.metrics.RecordTurnDuration(string(section), time.Since(start))
}

func (s *Service) recordLLMCall(kind string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordLLMCall(kind, outcome)
}

func (s *Service) recordExtractionFailure(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordExtractionFailure(reason)
}

func (s *Service) recordSectionCompleted(section Section) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordSectionCompleted(string(section))
}
