package form

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ShouldShowQuestion evaluates a question's conditional visibility rule
// against the current answers. Hide conditions win over show conditions.
// A hidden question keeps its stored answer but is excluded from
// validation and progress.
func ShouldShowQuestion(q Question, answers AnswerMap) bool {
	if q.Conditional == nil {
		return true
	}

	dependent := answers[q.Conditional.DependsOn]

	for _, v := range q.Conditional.HideWhen {
		if dependent.matches(v) {
			return false
		}
	}
	for _, v := range q.Conditional.ShowWhen {
		if dependent.matches(v) {
			return true
		}
	}
	return false
}

// IsRequiredAnswered reports whether a required question has a satisfying
// answer according to its type. Non-required questions always pass.
// Callers are expected to skip hidden questions.
func IsRequiredAnswered(q Question, answers AnswerMap) bool {
	if !q.Required {
		return true
	}

	a, ok := answers[q.ID]
	if !ok {
		return false
	}

	switch q.Type {
	case TypeText, TypeTextarea:
		return strings.TrimSpace(a.Value) != ""

	case TypeNumber, TypeMoney, TypePercent:
		n, err := parseNumber(a.Value)
		if err != nil {
			return false
		}
		min, max := q.bounds()
		if min != nil && n < *min {
			return false
		}
		if max != nil && n > *max {
			return false
		}
		return true

	case TypeSelect:
		return strings.TrimSpace(a.Value) != ""

	case TypeMultiselect:
		return len(a.Selected) > 0

	case TypeYesNoWithExplanation:
		switch a.Value {
		case "yes":
			return strings.TrimSpace(a.Explanation) != ""
		case "no":
			return true
		}
		return false

	case TypeMultiselectWithExplanation:
		if len(a.Selected) == 0 {
			return false
		}
		for _, s := range a.Selected {
			if isOtherOption(s) && strings.TrimSpace(a.Explanation) == "" {
				return false
			}
		}
		return true
	}

	return !a.isBlank()
}

// ValidateQuestion returns a single human-readable message for the first
// failing rule, or "" when the question passes. Required-ness is checked
// first; structural rules apply whenever a value is present, required or
// not.
func ValidateQuestion(q Question, answers AnswerMap) string {
	a, ok := answers[q.ID]
	blank := !ok || a.isBlank()

	if q.Required && blank {
		return "This field is required"
	}
	if blank {
		return ""
	}

	if msg := validateStructural(q, a); msg != "" {
		return msg
	}

	// residual required rules not expressible as structure: explanation
	// accompaniment for yes answers and "Other" selections
	if q.Required && !IsRequiredAnswered(q, answers) {
		switch q.Type {
		case TypeYesNoWithExplanation, TypeMultiselectWithExplanation:
			return "An explanation is required"
		}
		return "This field is required"
	}

	return ""
}

func validateStructural(q Question, a Answer) string {
	switch q.Type {
	case TypeNumber, TypeMoney, TypePercent:
		n, err := parseNumber(a.Value)
		if err != nil {
			return "Must be a valid number"
		}
		if q.Type == TypeMoney && n < 0 {
			return "Amount cannot be negative"
		}
		min, max := q.bounds()
		if min != nil && n < *min {
			return fmt.Sprintf("Must be at least %s", formatBound(*min))
		}
		if max != nil && n > *max {
			return fmt.Sprintf("Must be at most %s", formatBound(*max))
		}

	case TypeText, TypeTextarea:
		if q.Validation == nil {
			return ""
		}
		length := len([]rune(a.Value))
		if q.Validation.Min != nil && float64(length) < *q.Validation.Min {
			return fmt.Sprintf("Must be at least %s characters", formatBound(*q.Validation.Min))
		}
		if q.Validation.Max != nil && float64(length) > *q.Validation.Max {
			return fmt.Sprintf("Must be at most %s characters", formatBound(*q.Validation.Max))
		}
		if q.Validation.Pattern != "" {
			re, err := regexp.Compile(q.Validation.Pattern)
			if err != nil || !re.MatchString(a.Value) {
				if q.Validation.Message != "" {
					return q.Validation.Message
				}
				return "Invalid format"
			}
		}

	case TypeDate:
		if _, err := time.Parse("2006-01-02", a.Value); err != nil {
			return "Must be a valid date"
		}
	}

	return ""
}

// ValidateSection produces the error map for a section's visible
// questions. Hidden questions yield no entries.
func ValidateSection(sec Section, answers AnswerMap) map[string]string {
	errors := map[string]string{}
	for _, q := range sec.Questions {
		if !ShouldShowQuestion(q, answers) {
			continue
		}
		if msg := ValidateQuestion(q, answers); msg != "" {
			errors[q.ID] = msg
		}
	}
	return errors
}

// SectionValid reports whether every visible question in the section
// passes both the required-answered check and the structural validator.
func SectionValid(sec Section, answers AnswerMap) bool {
	for _, q := range sec.Questions {
		if !ShouldShowQuestion(q, answers) {
			continue
		}
		if !IsRequiredAnswered(q, answers) {
			return false
		}
		if msg := ValidateQuestion(q, answers); msg != "" {
			return false
		}
	}
	return true
}

// Progress computes the completion percentage over every section of the
// schema, counting only currently-visible required questions. A schema
// with no required questions is 100% complete.
func Progress(schema *Schema, answers AnswerMap) int {
	total, answered := 0, 0
	for _, sec := range schema.Sections {
		for _, q := range sec.Questions {
			if !q.Required || !ShouldShowQuestion(q, answers) {
				continue
			}
			total++
			if IsRequiredAnswered(q, answers) {
				answered++
			}
		}
	}
	if total == 0 {
		return 100
	}
	return int(math.Round(100 * float64(answered) / float64(total)))
}

// bounds resolves the numeric range for a question. PERCENT defaults its
// maximum to 100 when the schema leaves it unset.
func (q Question) bounds() (min, max *float64) {
	if q.Validation != nil {
		min, max = q.Validation.Min, q.Validation.Max
	}
	if q.Type == TypePercent && max == nil {
		hundred := 100.0
		max = &hundred
	}
	return
}

// parseNumber parses user-entered numeric input, tolerating thousands
// separators and inner spaces ("1,250.50", "1 250").
func parseNumber(v string) (float64, error) {
	v = strings.TrimSpace(v)
	v = strings.ReplaceAll(v, ",", "")
	v = strings.ReplaceAll(v, " ", "")
	if v == "" {
		return 0, fmt.Errorf("form: empty number")
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("form: number is not finite")
	}
	return n, nil
}

func isOtherOption(s string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s)), "other")
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
