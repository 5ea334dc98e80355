package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/swoopinfo/swoopkb/internal/domain"
	"github.com/swoopinfo/swoopkb/internal/telemetry"
)

// Verdict is the outcome of one QA evaluation. A verdict is always pass or
// fail; an evaluation that cannot reach a conclusion fails conservatively.
type Verdict struct {
	Status     domain.QAStatus
	Notes      string
	RepairHint string
}

// SemanticChecker verifies chunk content against the vehicle and chunk type
// using a language model. Implemented by the openrouter client.
type SemanticChecker interface {
	CheckChunk(ctx context.Context, chunk *domain.Chunk) (pass bool, notes string, err error)
}

// Rule tables. Rules are authoritative: a rule failure is final and the
// semantic check never runs for that chunk.
var placeholderTerms = []string{
	"see manual",
	"refer to manual",
	"consult dealer",
	"data not available",
	"coming soon",
	"lorem ipsum",
}

var brandTerms = map[string][]string{
	"ford":      {"motorcraft", "f-150", "f150", "mustang", "expedition"},
	"chevrolet": {"acdelco", "silverado", "camaro", "corvette", "equinox"},
	"chevy":     {"acdelco", "silverado", "camaro", "corvette", "equinox"},
	"toyota":    {"camry", "corolla", "rav4", "tacoma", "tundra"},
	"honda":     {"civic", "accord", "cr-v", "pilot", "odyssey"},
	"bmw":       {"bimmer", "beemer", "x3", "x5", "3-series"},
}

var topicKeywords = map[string][]string{
	"oil":          {"oil", "drain", "filter", "viscosity", "quart", "liter"},
	"brake":        {"brake", "pad", "rotor", "caliper", "fluid", "bleed"},
	"coolant":      {"coolant", "radiator", "antifreeze", "thermostat", "pump"},
	"transmission": {"transmission", "fluid", "gear", "shift", "clutch"},
	"spark":        {"spark", "plug", "gap", "coil", "ignition"},
}

const minContentLength = 20

// QAService evaluates chunk content quality. Rule checks run first and are
// final on failure; the semantic check only refines a rule pass.
type QAService struct {
	semantic SemanticChecker
}

// NewQAService creates a new QAService. semantic may be nil, in which case
// evaluation is rules-only.
func NewQAService(semantic SemanticChecker) *QAService {
	return &QAService{semantic: semantic}
}

// Evaluate runs the full QA pipeline on a chunk and returns a verdict.
// Malformed content is a fail verdict, not an error: broken data is exactly
// what QA exists to catch.
func (s *QAService) Evaluate(ctx context.Context, chunk *domain.Chunk) (*Verdict, error) {
	ctx, span := telemetry.StartSpan(ctx, "QAService.Evaluate", telemetry.SpanAttributes{
		VehicleKey: chunk.VehicleKey,
		ContentID:  chunk.ContentID,
		ChunkType:  string(chunk.ChunkType),
		Operation:  "qa_evaluate",
	})
	defer span.End()

	if v := s.checkRules(chunk); v.Status == domain.QAStatusFail {
		return v, nil
	}

	if s.semantic == nil {
		return &Verdict{Status: domain.QAStatusPass, Notes: "rules passed"}, nil
	}

	pass, notes, err := s.semantic.CheckChunk(ctx, chunk)
	if err != nil {
		// Inconclusive semantic check. Failing here keeps unvetted content
		// quarantined instead of waving it through.
		return &Verdict{
			Status:     domain.QAStatusFail,
			Notes:      fmt.Sprintf("semantic check inconclusive: %v", err),
			RepairHint: "",
		}, nil
	}
	if !pass {
		return &Verdict{Status: domain.QAStatusFail, Notes: notes, RepairHint: notes}, nil
	}
	return &Verdict{Status: domain.QAStatusPass, Notes: notes}, nil
}

func (s *QAService) checkRules(chunk *domain.Chunk) *Verdict {
	raw, err := json.Marshal(chunk.Data)
	if err != nil {
		return &Verdict{
			Status:     domain.QAStatusFail,
			Notes:      "rule violation: content data is not serializable",
			RepairHint: "regenerate with well-formed structured data",
		}
	}
	content := strings.ToLower(string(raw) + " " + chunk.ContentText)

	for _, term := range placeholderTerms {
		if strings.Contains(content, term) {
			return &Verdict{
				Status:     domain.QAStatusFail,
				Notes:      fmt.Sprintf("rule violation: placeholder term %q detected", term),
				RepairHint: fmt.Sprintf("remove placeholder text %q and provide real data", term),
			}
		}
	}

	if len(chunk.Data) == 0 || len(content) < minContentLength {
		return &Verdict{
			Status:     domain.QAStatusFail,
			Notes:      "rule violation: content too short or empty",
			RepairHint: "provide complete content for this chunk type",
		}
	}

	if v := checkBrandMismatch(chunk.VehicleKey, content); v != nil {
		return v
	}
	if v := checkTopicMismatch(chunk.ContentID, content); v != nil {
		return v
	}
	if v := checkNumericSanity(chunk); v != nil {
		return v
	}

	return &Verdict{Status: domain.QAStatusPass, Notes: "rules passed"}
}

// checkBrandMismatch flags content mentioning another manufacturer's terms.
// The make is the second segment of the vehicle key; an unparsable key skips
// the check rather than failing it.
func checkBrandMismatch(vehicleKey, content string) *Verdict {
	parts := strings.Split(vehicleKey, "_")
	if len(parts) < 2 {
		return nil
	}
	vehicleMake := strings.ToLower(parts[1])

	padded := " " + content + " "
	for brand, terms := range brandTerms {
		if brand == vehicleMake {
			continue
		}
		for _, term := range terms {
			if strings.Contains(padded, " "+term+" ") {
				return &Verdict{
					Status:     domain.QAStatusFail,
					Notes:      fmt.Sprintf("rule violation: mismatched brand term %q found in %s chunk", term, vehicleMake),
					RepairHint: fmt.Sprintf("content references %q which belongs to %s, not %s", term, brand, vehicleMake),
				}
			}
		}
	}
	return nil
}

// checkTopicMismatch flags cross-contamination: a chunk whose content ID names
// one topic but whose content matches a different topic's vocabulary while
// matching none of its own.
func checkTopicMismatch(contentID, content string) *Verdict {
	id := strings.ToLower(contentID)
	for topic, keywords := range topicKeywords {
		if !strings.Contains(id, topic) {
			continue
		}
		currentMatches := countMatches(content, keywords)
		for otherTopic, otherKeywords := range topicKeywords {
			if otherTopic == topic {
				continue
			}
			if countMatches(content, otherKeywords) >= 2 && currentMatches == 0 {
				return &Verdict{
					Status:     domain.QAStatusFail,
					Notes:      fmt.Sprintf("rule violation: topic mismatch, chunk %q appears to be about %q", contentID, otherTopic),
					RepairHint: fmt.Sprintf("regenerate content about %s, not %s", topic, otherTopic),
				}
			}
		}
	}
	return nil
}

// checkNumericSanity requires measurable chunk types to carry at least one
// positive numeric value.
func checkNumericSanity(chunk *domain.Chunk) *Verdict {
	switch chunk.ChunkType {
	case domain.ChunkTypeTorqueSpec, domain.ChunkTypeFluidCapacity, domain.ChunkTypeLaborTime:
	default:
		return nil
	}
	if hasPositiveNumber(chunk.Data) {
		return nil
	}
	return &Verdict{
		Status:     domain.QAStatusFail,
		Notes:      fmt.Sprintf("rule violation: %s chunk carries no numeric value", chunk.ChunkType),
		RepairHint: "include the actual numeric specification with units",
	}
}

func hasPositiveNumber(v interface{}) bool {
	switch t := v.(type) {
	case float64:
		return t > 0
	case int:
		return t > 0
	case map[string]interface{}:
		for _, inner := range t {
			if hasPositiveNumber(inner) {
				return true
			}
		}
	case []interface{}:
		for _, inner := range t {
			if hasPositiveNumber(inner) {
				return true
			}
		}
	}
	return false
}

func countMatches(content string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(content, k) {
			n++
		}
	}
	return n
}
