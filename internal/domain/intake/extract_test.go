package intake

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// =========== Scripted Generator ===========

type generatorCall struct {
	system string
	user   string
	opts   GenerateOptions
}

// scriptedGenerator replays queued responses in call order and records
// every call it receives.
type scriptedGenerator struct {
	replies []scriptedReply
	calls   []generatorCall
}

type scriptedReply struct {
	text string
	err  error
}

func (g *scriptedGenerator) push(text string) {
	g.replies = append(g.replies, scriptedReply{text: text})
}

func (g *scriptedGenerator) pushErr(err error) {
	g.replies = append(g.replies, scriptedReply{err: err})
}

func (g *scriptedGenerator) Complete(_ context.Context, system, user string, opts GenerateOptions) (string, error) {
	g.calls = append(g.calls, generatorCall{system: system, user: user, opts: opts})
	if len(g.replies) == 0 {
		return "", fmt.Errorf("no scripted reply for call %d", len(g.calls))
	}
	next := g.replies[0]
	g.replies = g.replies[1:]
	return next.text, next.err
}

func newTestExtractor(gen Generator) *Extractor {
	return NewExtractor(gen, ExtractorConfig{Temperature: 0.1, MaxTokens: 1000, MaxRetries: 3}, zerolog.Nop())
}

func recordAt(section Section) *PatientRecord {
	rec := NewPatientRecord("p1")
	rec.CurrentSection = secp(section)
	return rec
}

// =========== Extraction ===========

func TestExtract_EmptyMessage(t *testing.T) {
	gen := &scriptedGenerator{}
	ex := newTestExtractor(gen)

	for _, msg := range []string{"", "   "} {
		result, err := ex.Extract(context.Background(), msg, recordAt(SectionBasicInfo), nil)
		if err != nil {
			t.Fatalf("empty message must recover, got %v", err)
		}
		if !result.NeedsClarification || result.Error != ErrEmptyMessage.Error() {
			t.Errorf("message %q: %+v", msg, result)
		}
		if result.Payload != nil {
			t.Errorf("message %q: basic_info empty result must carry no payload", msg)
		}
	}
	if len(gen.calls) != 0 {
		t.Errorf("generator must not be called for empty messages, got %d calls", len(gen.calls))
	}
}

func TestExtract_GeneratorFailurePropagates(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.pushErr(errors.New("connection refused"))
	ex := newTestExtractor(gen)

	result, err := ex.Extract(context.Background(), "I take aspirin", recordAt(SectionMedications), nil)
	if !errors.Is(err, ErrGeneratorUnavailable) {
		t.Fatalf("expected ErrGeneratorUnavailable, got %v", err)
	}
	payload, ok := result.Payload.(*ItemListPayload)
	if !ok || len(payload.Items) != 0 {
		t.Errorf("expected empty placeholder payload, got %+v", result.Payload)
	}
}

func TestExtract_MalformedResponseRecovered(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push("I think the patient takes aspirin {maybe}")
	ex := newTestExtractor(gen)

	result, err := ex.Extract(context.Background(), "I take aspirin", recordAt(SectionMedications), nil)
	if err != nil {
		t.Fatalf("malformed response must recover, got %v", err)
	}
	if result.IsComplete {
		t.Error("malformed response cannot complete a section")
	}
	if !result.NeedsClarification || result.Error != ErrMalformedResponse.Error() {
		t.Errorf("result: %+v", result)
	}
	payload, ok := result.Payload.(*ItemListPayload)
	if !ok || len(payload.Items) != 0 {
		t.Errorf("expected empty placeholder payload, got %+v", result.Payload)
	}
}

func TestExtract_MalformedResponseBasicInfo(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push("{{{")
	ex := newTestExtractor(gen)

	result, err := ex.Extract(context.Background(), "My name is John", recordAt(SectionBasicInfo), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Payload != nil {
		t.Errorf("basic_info malformed result must carry no payload, got %+v", result.Payload)
	}
}

func TestExtract_MissingExtractedKey(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"items": [{"name": "Aspirin"}]}`)
	ex := newTestExtractor(gen)

	result, err := ex.Extract(context.Background(), "I take aspirin", recordAt(SectionMedications), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NeedsClarification || result.Error != ErrSchemaViolation.Error() {
		t.Errorf("result: %+v", result)
	}
	payload := result.Payload.(*ItemListPayload)
	if len(payload.Items) != 0 {
		t.Errorf("items outside extracted key must not leak through, got %+v", payload.Items)
	}
}

func TestExtract_BasicInfoGatingAgeMissing(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":"John","age":null,"gender":null,"height":null,"weight":null},"is_complete":true,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, err := ex.Extract(context.Background(), "My name is John", recordAt(SectionBasicInfo), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsComplete {
		t.Error("completeness claim must be overridden without age")
	}
	if !result.NeedsClarification {
		t.Error("expected clarification request")
	}
	if !strings.Contains(result.ClarificationMessage, "age") {
		t.Errorf("clarification must name age: %q", result.ClarificationMessage)
	}
}

func TestExtract_BasicInfoGatingBothMissing(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":null,"age":null},"is_complete":true,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, _ := ex.Extract(context.Background(), "hello", recordAt(SectionBasicInfo), nil)
	if result.IsComplete {
		t.Error("completeness claim must be overridden")
	}
	msg := result.ClarificationMessage
	if !strings.Contains(msg, "name") || !strings.Contains(msg, "age") {
		t.Errorf("clarification must name both fields: %q", msg)
	}
}

func TestExtract_BasicInfoGatingSatisfied(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":"Jane","age":42},"is_complete":false,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, _ := ex.Extract(context.Background(), "Jane, 42", recordAt(SectionBasicInfo), nil)
	if !result.IsComplete {
		t.Error("name and age present must complete the section")
	}
	if result.NeedsClarification {
		t.Errorf("unexpected clarification: %q", result.ClarificationMessage)
	}
}

func TestExtract_BasicInfoGatingCountsRecordedName(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"age":31},"is_complete":false,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	rec := recordAt(SectionBasicInfo)
	rec.Name = "Sam Lee"

	result, _ := ex.Extract(context.Background(), "I'm 31", rec, nil)
	if !result.IsComplete {
		t.Error("a name collected on an earlier turn satisfies the gate")
	}
	if result.NeedsClarification {
		t.Errorf("unexpected clarification: %q", result.ClarificationMessage)
	}
}

func TestExtract_BasicInfoGatingCountsRecordedAge(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":"Sam Lee"},"is_complete":true,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	rec := recordAt(SectionBasicInfo)
	rec.Age = 31

	result, _ := ex.Extract(context.Background(), "Sam Lee", rec, nil)
	if !result.IsComplete {
		t.Error("an age collected on an earlier turn satisfies the gate")
	}
}

func TestExtract_WeightPoundsConverted(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":"John","age":34,"weight":"150 lbs"},"is_complete":true,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, _ := ex.Extract(context.Background(), "I weigh 150 lbs", recordAt(SectionBasicInfo), nil)
	payload := result.Payload.(*BasicInfoPayload)
	if payload.Weight == nil {
		t.Fatal("weight not converted")
	}
	if math.Abs(*payload.Weight-68.04) > 0.01 {
		t.Errorf("expected 68.04 kg, got %v", *payload.Weight)
	}
}

func TestExtract_WeightKilogramsPassThrough(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":"John","age":34,"weight":68.04},"is_complete":true,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, _ := ex.Extract(context.Background(), "68.04 kg", recordAt(SectionBasicInfo), nil)
	payload := result.Payload.(*BasicInfoPayload)
	if payload.Weight == nil || math.Abs(*payload.Weight-68.04) > 0.01 {
		t.Errorf("weight: %v", payload.Weight)
	}
}

func TestExtract_WeightTextWithKgMarker(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":"John","age":34,"weight":"72.5 kg"},"is_complete":true,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, _ := ex.Extract(context.Background(), "72.5 kg", recordAt(SectionBasicInfo), nil)
	payload := result.Payload.(*BasicInfoPayload)
	if payload.Weight == nil || math.Abs(*payload.Weight-72.5) > 0.01 {
		t.Errorf("weight: %v", payload.Weight)
	}
}

func TestExtract_WeightUnparsableText(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"name":"John","age":34,"weight":"quite a lot"},"is_complete":false,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, err := ex.Extract(context.Background(), "I weigh quite a lot", recordAt(SectionBasicInfo), nil)
	if err != nil {
		t.Fatalf("validation failure must recover, got %v", err)
	}
	payload := result.Payload.(*BasicInfoPayload)
	if payload.Weight != nil {
		t.Errorf("unparsable weight must stay unset, got %v", *payload.Weight)
	}
	if !result.NeedsClarification || result.Error != ErrValidationFailure.Error() {
		t.Errorf("result: %+v", result)
	}
	if !strings.Contains(result.ClarificationMessage, "weight") {
		t.Errorf("clarification should mention weight: %q", result.ClarificationMessage)
	}
}

func TestExtract_ListSectionFlagsTrusted(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"items":[]},"is_complete":true,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	result, _ := ex.Extract(context.Background(), "no medications", recordAt(SectionMedications), nil)
	if !result.IsComplete {
		t.Error("list sections trust the generator's is_complete")
	}
	if result.NeedsClarification {
		t.Error("list sections trust the generator's needs_clarification")
	}
}

func TestExtract_TerminalRecordNoCall(t *testing.T) {
	gen := &scriptedGenerator{}
	ex := newTestExtractor(gen)

	rec := NewPatientRecord("p1")
	rec.CurrentSection = nil

	result, err := ex.Extract(context.Background(), "anything else?", rec, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Payload != nil || result.IsComplete {
		t.Errorf("terminal record must yield a zero result, got %+v", result)
	}
	if len(gen.calls) != 0 {
		t.Error("terminal record must not call the generator")
	}
}

func TestExtract_PromptCarriesMessageAndContext(t *testing.T) {
	gen := &scriptedGenerator{}
	gen.push(`{"extracted":{"items":[]},"is_complete":false,"needs_clarification":false}`)
	ex := newTestExtractor(gen)

	snippets := []string{"patient: I take aspirin", "", "bot: noted"}
	_, err := ex.Extract(context.Background(), "also lisinopril", recordAt(SectionMedications), snippets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gen.calls) != 1 {
		t.Fatalf("expected one call, got %d", len(gen.calls))
	}
	call := gen.calls[0]
	if !strings.Contains(call.user, "also lisinopril") {
		t.Error("user prompt missing the patient message")
	}
	if !strings.Contains(call.user, "patient: I take aspirin") || !strings.Contains(call.user, "bot: noted") {
		t.Error("user prompt missing context snippets")
	}
	if !strings.Contains(call.user, `"dosage"`) {
		t.Error("user prompt missing the medications contract")
	}
	if call.system != extractionSystem {
		t.Errorf("system prompt: %q", call.system)
	}
	if !call.opts.JSON {
		t.Error("extraction calls must request JSON output")
	}
	if call.opts.Temperature != 0.1 || call.opts.MaxTokens != 1000 || call.opts.MaxRetries != 3 {
		t.Errorf("options: %+v", call.opts)
	}
}
