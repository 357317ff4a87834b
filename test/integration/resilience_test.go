package integration

import (
	"context"
	"net/http"
	"sync"
	"testing"
)

func TestGeneratorOutageLeavesRecordUntouched(t *testing.T) {
	s := newStack()

	s.pushTurn(
		`{"extracted":{"name":"Leo","age":60},"is_complete":true,"needs_clarification":false}`,
		"Thanks Leo. Any medications?")
	first := s.chat(t, "leo", "", "Leo, 60")
	before := s.patientHistory(t, "leo")

	s.gen.pushErr(context.DeadlineExceeded)
	resp := s.chat(t, "leo", first.ConversationID, "I take aspirin")

	if resp.Response != "I apologize, but I'm having trouble processing your response. Could you please try again?" {
		t.Errorf("apology response: %q", resp.Response)
	}
	if resp.Error == "" {
		t.Error("expected error detail in response")
	}
	if resp.DataUpdated {
		t.Error("failed turn must not report a data update")
	}

	after := s.patientHistory(t, "leo")
	if len(after.Medications) != len(before.Medications) {
		t.Errorf("record changed on failed turn: %v", after.Medications)
	}
	if !after.LastUpdated.Equal(before.LastUpdated) {
		t.Error("failed turn must not bump the record timestamp")
	}

	// The failed turn is not logged; only the first turn's exchange is.
	rec := s.get(t, "/api/v1/chat/history/"+first.ConversationID)
	if rec.Code != http.StatusOK {
		t.Fatalf("conversation history returned %d", rec.Code)
	}
	exchanges, _ := s.contexts.counts()
	if exchanges != 1 {
		t.Errorf("context exchanges after failed turn: %d, want 1", exchanges)
	}
}

func TestParallelPatientsStayIsolated(t *testing.T) {
	s := newStack()

	// Every call answers with the same medication so repeated turns for
	// one patient collapse to a single deduplicated entry.
	s.gen.loop = `{"extracted":{"items":[{"name":"Aspirin"}]},"is_complete":false,"needs_clarification":false}`

	patients := []string{"pat-a", "pat-b"}
	seed := `{"extracted":{"name":"P","age":40},"is_complete":true,"needs_clarification":false}`
	for _, id := range patients {
		s.pushTurn(seed, "Thanks. Any medications?")
		s.chat(t, id, "", "P, 40")
	}

	const turnsPerPatient = 8
	var wg sync.WaitGroup
	for _, id := range patients {
		for i := 0; i < turnsPerPatient; i++ {
			wg.Add(1)
			go func(patientID string) {
				defer wg.Done()
				if _, err := s.tryChat(patientID, "", "I take aspirin"); err != nil {
					t.Errorf("%s: %v", patientID, err)
				}
			}(id)
		}
	}
	wg.Wait()

	for _, id := range patients {
		record := s.patientHistory(t, id)
		if len(record.Medications) != 1 || record.Medications[0] != "Aspirin" {
			t.Errorf("%s medications: %v, want exactly [Aspirin]", id, record.Medications)
		}
		if record.CurrentSection == nil {
			t.Errorf("%s: interview unexpectedly finished", id)
		}
	}
}

func TestUnknownConversationIs404(t *testing.T) {
	s := newStack()
	rec := s.get(t, "/api/v1/chat/history/never-spoke")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestUnknownPatientHistoryIs404(t *testing.T) {
	s := newStack()
	rec := s.get(t, "/api/v1/patient/history/never-seen")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
