package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// lbToKg converts pound weights to kilograms.
const lbToKg = 0.453592

var weightPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// ExtractorConfig tunes the generator calls the coordinator makes.
type ExtractorConfig struct {
	Temperature float64
	MaxTokens   int
	MaxRetries  int
}

// Extractor coordinates one extraction turn: prompt build, generator
// call, parse, shape normalization, and section-specific validation.
type Extractor struct {
	gen    Generator
	cfg    ExtractorConfig
	logger zerolog.Logger
}

func NewExtractor(gen Generator, cfg ExtractorConfig, logger zerolog.Logger) *Extractor {
	return &Extractor{gen: gen, cfg: cfg, logger: logger}
}

// Extract runs one extraction turn against the record's current
// section. Every failure mode except generator unavailability is
// recovered into a structured result; a non-nil error means the
// generator could not be reached and the caller must not merge.
func (e *Extractor) Extract(ctx context.Context, message string, rec *PatientRecord, contextSnippets []string) (ExtractionResult, error) {
	if rec.CurrentSection == nil {
		return ExtractionResult{}, nil
	}
	section := *rec.CurrentSection

	if strings.TrimSpace(message) == "" {
		result := emptyResult(section)
		result.NeedsClarification = true
		result.Error = ErrEmptyMessage.Error()
		return result, nil
	}

	system, user := promptFor(section, message, joinSnippets(contextSnippets))

	raw, err := e.gen.Complete(ctx, system, user, GenerateOptions{
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
		MaxRetries:  e.cfg.MaxRetries,
		JSON:        true,
	})
	if err != nil {
		return emptyResult(section), fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		e.logger.Error().Err(err).Str("section", string(section)).Msg("unparsable extraction response")
		result := emptyResult(section)
		result.NeedsClarification = true
		result.Error = ErrMalformedResponse.Error()
		return result, nil
	}

	result := normalizeExtraction(parsed, section)
	if !hasExtractedKey(parsed) {
		e.logger.Warn().Str("section", string(section)).Msg("extraction response missing extracted key")
		result.NeedsClarification = true
		result.Error = ErrSchemaViolation.Error()
	}

	if section == SectionBasicInfo {
		validateBasicInfo(&result, rec)
	}
	return result, nil
}

// emptyResult is the emptiest legal result for a section: no payload at
// all for basic_info (nothing to merge), an empty item list otherwise.
func emptyResult(section Section) ExtractionResult {
	result := ExtractionResult{Section: section}
	if shapeOf(section).ListShaped {
		result.Payload = &ItemListPayload{Items: []Item{}}
	}
	return result
}

// joinSnippets flattens retrieved context for prompt embedding,
// dropping blank entries.
func joinSnippets(snippets []string) string {
	kept := make([]string, 0, len(snippets))
	for _, s := range snippets {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n")
}

// validateBasicInfo applies the rules the generator cannot be trusted
// with: the completeness gate on name and age, and weight unit
// conversion. The gate judges the record as it will look after the
// merge, so a field collected on an earlier turn is never re-demanded.
// The other sections carry no equivalent gate and trust the generator's
// flags as returned.
func validateBasicInfo(result *ExtractionResult, rec *PatientRecord) {
	payload, ok := result.Payload.(*BasicInfoPayload)
	if !ok || payload == nil {
		return
	}

	normalizeWeight(result, payload)

	var missing []string
	for _, field := range shapeOf(SectionBasicInfo).Required {
		switch field {
		case "name":
			name := rec.Name
			if payload.Name != nil {
				name = *payload.Name
			}
			if strings.TrimSpace(name) == "" {
				missing = append(missing, field)
			}
		case "age":
			if payload.Age == nil && rec.Age == 0 {
				missing = append(missing, field)
			}
		}
	}

	result.IsComplete = len(missing) == 0
	if len(missing) > 0 {
		result.NeedsClarification = true
		result.ClarificationMessage = "Please provide your " + strings.Join(missing, " and ") + "."
	}
}

// normalizeWeight resolves the extracted weight to kilograms. Numeric
// values are taken as kilograms; text values yield their first decimal
// number, converted from pounds when the text carries a lb/pound
// marker. Text with no number at all forces a units clarification.
func normalizeWeight(result *ExtractionResult, payload *BasicInfoPayload) {
	if payload.Weight != nil {
		v := round2(*payload.Weight)
		payload.Weight = &v
		return
	}
	if payload.RawWeight == nil {
		return
	}

	raw := *payload.RawWeight
	match := weightPattern.FindString(raw)
	v, err := strconv.ParseFloat(match, 64)
	if match == "" || err != nil {
		payload.Weight = nil
		result.NeedsClarification = true
		result.ClarificationMessage = "Could you confirm your weight with units, for example 150 lbs or 68 kg?"
		result.Error = ErrValidationFailure.Error()
		return
	}

	lower := strings.ToLower(raw)
	if strings.Contains(lower, "lb") || strings.Contains(lower, "pound") {
		v *= lbToKg
	}
	v = round2(v)
	payload.Weight = &v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
