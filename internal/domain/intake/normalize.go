package intake

import (
	"strconv"
	"strings"
)

// normalizeExtraction repairs the shape of a parsed generator response
// into a canonical ExtractionResult. It is total: whatever the input,
// the payload comes back shaped for the section, with absent flags
// defaulting to false. Business rules (completeness gating, unit
// conversion) do not belong here.
func normalizeExtraction(raw interface{}, section Section) ExtractionResult {
	result := ExtractionResult{Section: section}

	top, _ := raw.(map[string]interface{})
	extracted := top["extracted"]

	if shapeOf(section).ListShaped {
		result.Payload = normalizeItems(extracted)
	} else {
		result.Payload = normalizeBasicInfo(extracted)
	}

	result.IsComplete = asBool(top["is_complete"])
	result.NeedsClarification = asBool(top["needs_clarification"])
	return result
}

// hasExtractedKey reports whether the parsed response carries the
// required top-level "extracted" key.
func hasExtractedKey(raw interface{}) bool {
	top, ok := raw.(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = top["extracted"]
	return ok
}

func normalizeBasicInfo(extracted interface{}) *BasicInfoPayload {
	p := &BasicInfoPayload{}
	bag, _ := extracted.(map[string]interface{})
	p.Name = asStringPtr(bag["name"])
	p.Age = asIntPtr(bag["age"])
	p.Gender = asStringPtr(bag["gender"])
	p.Height = asStringPtr(bag["height"])
	switch w := bag["weight"].(type) {
	case float64:
		p.Weight = &w
	case string:
		if strings.TrimSpace(w) != "" {
			raw := w
			p.RawWeight = &raw
		}
	}
	return p
}

func normalizeItems(extracted interface{}) *ItemListPayload {
	p := &ItemListPayload{Items: []Item{}}
	bag, ok := extracted.(map[string]interface{})
	if !ok {
		return p
	}
	rawItems, present := bag["items"]
	if !present || rawItems == nil {
		return p
	}

	list, ok := rawItems.([]interface{})
	if !ok {
		// A bare non-list value wraps as a single element.
		list = []interface{}{rawItems}
	}

	for _, entry := range list {
		switch e := entry.(type) {
		case map[string]interface{}:
			p.Items = append(p.Items, itemFromMap(e))
		case string:
			if strings.TrimSpace(e) != "" {
				p.Items = append(p.Items, Item{Text: e})
			}
		}
	}
	return p
}

func itemFromMap(m map[string]interface{}) Item {
	return Item{
		Text:          asString(m["text"]),
		Name:          asString(m["name"]),
		Type:          asString(m["type"]),
		Dosage:        asString(m["dosage"]),
		Frequency:     asString(m["frequency"]),
		Severity:      asString(m["severity"]),
		Reaction:      asString(m["reaction"]),
		DiagnosisDate: asString(m["diagnosis_date"]),
		Status:        asString(m["status"]),
		Treatments:    asString(m["treatments"]),
		Date:          asString(m["date"]),
		Complications: asString(m["complications"]),
		Relation:      asString(m["relation"]),
		Condition:     asString(m["condition"]),
		AgeOfOnset:    asString(m["age_of_onset"]),
	}
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func asStringPtr(v interface{}) *string {
	switch t := v.(type) {
	case string:
		return &t
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	}
	return nil
}

func asIntPtr(v interface{}) *int {
	switch t := v.(type) {
	case float64:
		n := int(t)
		return &n
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return &n
		}
	}
	return nil
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
