package intake

import (
	"fmt"
	"strings"
)

const (
	// extractionSystem pins the generator to machine-readable output for
	// extraction calls.
	extractionSystem = "You are a medical information extraction assistant. Respond only with valid JSON."

	// terminalMessage closes the interview once every section is done.
	terminalMessage = "Thank you for completing your medical history. Is there anything else you'd like to share?"

	// apologyMessage answers a turn whose extraction call could not be
	// completed at all.
	apologyMessage = "I apologize, but I'm having trouble processing your response. Could you please try again?"
)

// extractionContracts holds the per-section JSON contract the generator
// must produce. The fallback contract (empty items) covers unknown
// sections.
var extractionContracts = map[Section]string{
	SectionBasicInfo: `Extract relevant basic medical information.
Return a JSON object with the extracted information.
Format the response as: {"extracted": {"name": "string or null", "age": number or null, "gender": "string or null", "height": "string or null", "weight": "string or null"}, "is_complete": bool, "needs_clarification": bool}`,
	SectionMedications: `Extract relevant medication information including:
- Medication name
- Dosage
- Frequency
Return a JSON object with the extracted information.
Format the response as: {"extracted": {"items": [{"name": "string", "dosage": "string", "frequency": "string"}]}, "is_complete": bool, "needs_clarification": bool}`,
	SectionAllergies: `Extract relevant allergy information including:
- Allergy type (e.g., food, medication, environmental)
- Specific allergen (e.g., mushrooms, dust, pollen)
- Severity (e.g., mild, moderate, severe)
- Reaction type (e.g., rash, difficulty breathing)
Return a JSON object with the extracted information.
Format the response as: {"extracted": {"items": [{"type": "string", "name": "string", "severity": "string", "reaction": "string"}]}, "is_complete": bool, "needs_clarification": bool}`,
	SectionChronicConditions: `Extract relevant chronic condition information including:
- Condition name
- Diagnosis date
- Current status
- Treatments
Return a JSON object with the extracted information.
Format the response as: {"extracted": {"items": [{"name": "string", "diagnosis_date": "string", "status": "string", "treatments": "string"}]}, "is_complete": bool, "needs_clarification": bool}`,
	SectionSurgeries: `Extract relevant surgical history information including:
- Surgery type
- Date or timeframe
- Complications
Return a JSON object with the extracted information.
Format the response as: {"extracted": {"items": [{"type": "string", "date": "string", "complications": "string"}]}, "is_complete": bool, "needs_clarification": bool}`,
	SectionFamilyHistory: `Extract relevant family history information including:
- Relation (e.g., mother, father)
- Condition
- Age of onset
Return a JSON object with the extracted information.
Format the response as: {"extracted": {"items": [{"relation": "string", "condition": "string", "age_of_onset": "string"}]}, "is_complete": bool, "needs_clarification": bool}`,
}

const fallbackContract = `Extract relevant medical information for the %s section.
Return a JSON object with the extracted information.
Format the response as: {"extracted": {"items": []}, "is_complete": bool, "needs_clarification": bool}`

// sectionGuidance steers the conversational reply for each section.
var sectionGuidance = map[Section]string{
	SectionBasicInfo: `For this section, collect the patient's name, age, gender, height, and weight.
Ensure responses are in standard formats:
- Name: text
- Age: numerical value
- Gender: male, female, or other
- Height: feet and inches (e.g., 5'10")
- Weight: pounds or kilograms`,
	SectionMedications: `Collect information about current medications, including:
- Medication names
- Dosages
- Frequency of use
Ask follow-up questions if information is incomplete.`,
	SectionAllergies: `Gather information about:
- Medication allergies
- Food allergies
- Environmental allergies
For each allergy, try to get severity and reaction type.`,
	SectionChronicConditions: `Collect information about ongoing medical conditions:
- Condition names
- When diagnosed
- Current status
- Any treatments`,
	SectionSurgeries: `Gather surgical history:
- Types of surgeries
- Dates or approximate timeframes
- Any complications`,
	SectionFamilyHistory: `Collect information about:
- Medical conditions in immediate family
- Which relatives were affected
- Age of onset if known`,
}

// sectionTopic phrases each section for canned follow-up questions.
var sectionTopic = map[Section]string{
	SectionBasicInfo:         "basic information",
	SectionMedications:       "current medications",
	SectionAllergies:         "allergies",
	SectionChronicConditions: "ongoing medical conditions",
	SectionSurgeries:         "surgical history",
	SectionFamilyHistory:     "family medical history",
}

// extractionUserPrompt builds the user message for an extraction call:
// the patient's reply, the retrieved context, and the section's JSON
// contract.
func extractionUserPrompt(section Section, message, contextText string) string {
	contract, ok := extractionContracts[section]
	if !ok {
		contract = fmt.Sprintf(fallbackContract, section)
	}
	return fmt.Sprintf("Based on the patient's response: %q\nAnd considering this context: %q\n%s",
		message, contextText, contract)
}

// replySystemPrompt builds the system message for a reply call: the
// interviewer persona, the current record snapshot, the section
// guidance, and the retrieved context.
func replySystemPrompt(section Section, rec *PatientRecord, contextText string) string {
	var b strings.Builder
	b.WriteString(`You are a medical intake chatbot conducting a patient interview. Be professional, concise, and friendly.
Extract relevant medical information from patient responses and maintain a natural conversation flow.
If the patient provides unclear or incomplete information, ask for clarification.
Do not ask repeated questions.
Current patient information:
`)
	b.WriteString(recordSummary(rec))
	if guidance, ok := sectionGuidance[section]; ok {
		b.WriteString("\n")
		b.WriteString(guidance)
	}
	b.WriteString("\nRelevant conversation history:\n")
	b.WriteString(contextText)
	return b.String()
}

// replyUserPrompt wraps the patient's message with the reply
// instructions.
func replyUserPrompt(message string) string {
	return fmt.Sprintf(`Patient's last message: %q

Generate an appropriate response that:
1. Acknowledges the information provided
2. Asks for clarification if needed
3. Moves to the next relevant question

Keep the response concise and natural. Your response should ONLY include what you would say directly to the patient.
Do not include any instructions, explanations of your approach, or meta-commentary about how you're responding.
Do not include JSON or raw data in the response.`, message)
}

// recordSummary renders the record for prompt embedding.
func recordSummary(rec *PatientRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", orPlaceholder(rec.Name, "Not provided"))
	if rec.Age > 0 {
		fmt.Fprintf(&b, "Age: %d\n", rec.Age)
	} else {
		b.WriteString("Age: Not provided\n")
	}
	fmt.Fprintf(&b, "Gender: %s\n", orPlaceholder(rec.Gender, "Not provided"))
	fmt.Fprintf(&b, "Height: %s\n", orPlaceholder(rec.Height, "Not provided"))
	if rec.Weight > 0 {
		fmt.Fprintf(&b, "Weight: %.2f kg\n", rec.Weight)
	} else {
		b.WriteString("Weight: Not provided\n")
	}
	fmt.Fprintf(&b, "Medications: %s\n", joinOrPlaceholder(rec.Medications))
	fmt.Fprintf(&b, "Allergies: %s\n", joinOrPlaceholder(rec.Allergies))
	fmt.Fprintf(&b, "Chronic Conditions: %s\n", joinOrPlaceholder(rec.ChronicConditions))
	fmt.Fprintf(&b, "Surgeries: %s\n", joinOrPlaceholder(rec.Surgeries))
	fmt.Fprintf(&b, "Family History: %s\n", joinOrPlaceholder(rec.FamilyHistory))
	return b.String()
}

func orPlaceholder(v, placeholder string) string {
	if strings.TrimSpace(v) == "" {
		return placeholder
	}
	return v
}

func joinOrPlaceholder(items []string) string {
	if len(items) == 0 {
		return "None recorded"
	}
	return strings.Join(items, ", ")
}

// leakMarkers flag reply lines where interviewer instructions bled into
// the patient-facing text.
var leakMarkers = []string{
	"while waiting for",
	"ensure that you",
	"this will establish",
	"by following these guidelines",
	"if the patient provides",
	"ask for clarification by saying",
	"you can maintain",
}

// filterLeakedInstructions drops reply lines containing a leak marker.
func filterLeakedInstructions(reply string) string {
	lines := strings.Split(reply, "\n")
	kept := lines[:0]
	for _, line := range lines {
		lower := strings.ToLower(line)
		leaked := false
		for _, marker := range leakMarkers {
			if strings.Contains(lower, marker) {
				leaked = true
				break
			}
		}
		if !leaked {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
