package form

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// AnswerKind discriminates the shapes an answer value can take. The wire
// format is untyped (bare string, array or object depending on question
// type), so the kind is recovered from the JSON shape on decode.
type AnswerKind int

const (
	KindNone AnswerKind = iota
	KindScalar
	KindList
	KindListWithExplanation
	KindYesNo
)

// Answer is a tagged union over the value shapes of the question types.
// The zero value means "unanswered".
type Answer struct {
	Kind        AnswerKind
	Value       string   // KindScalar, KindYesNo ("yes"|"no")
	Selected    []string // KindList, KindListWithExplanation
	Explanation string   // KindListWithExplanation, KindYesNo
}

func Scalar(v string) Answer {
	return Answer{Kind: KindScalar, Value: v}
}

func List(vs ...string) Answer {
	return Answer{Kind: KindList, Selected: vs}
}

func ListWithExplanation(selected []string, explanation string) Answer {
	return Answer{Kind: KindListWithExplanation, Selected: selected, Explanation: explanation}
}

func YesNo(value, explanation string) Answer {
	return Answer{Kind: KindYesNo, Value: value, Explanation: explanation}
}

// AnswerMap holds one answer per question id. A missing key means the
// question was never answered.
type AnswerMap map[string]Answer

func (m AnswerMap) Clone() AnswerMap {
	clone := make(AnswerMap, len(m))
	for id, a := range m {
		if a.Selected != nil {
			a.Selected = append([]string(nil), a.Selected...)
		}
		clone[id] = a
	}
	return clone
}

// matches reports whether the answer equals the given scalar value, or
// contains it for list-shaped answers. Used by conditional visibility.
func (a Answer) matches(v string) bool {
	switch a.Kind {
	case KindScalar, KindYesNo:
		return a.Value == v
	case KindList, KindListWithExplanation:
		for _, s := range a.Selected {
			if s == v {
				return true
			}
		}
	}
	return false
}

// isBlank reports whether the answer carries no usable value.
func (a Answer) isBlank() bool {
	switch a.Kind {
	case KindScalar, KindYesNo:
		return strings.TrimSpace(a.Value) == ""
	case KindList, KindListWithExplanation:
		return len(a.Selected) == 0
	}
	return true
}

type explanationShape struct {
	Selected    []string `json:"selected"`
	Explanation string   `json:"explanation"`
}

type yesNoShape struct {
	Answer      string `json:"answer"`
	Explanation string `json:"explanation"`
}

func (a Answer) MarshalJSON() ([]byte, error) {
	switch a.Kind {
	case KindNone:
		return []byte("null"), nil
	case KindScalar:
		return json.Marshal(a.Value)
	case KindList:
		if a.Selected == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Selected)
	case KindListWithExplanation:
		return json.Marshal(explanationShape{Selected: a.Selected, Explanation: a.Explanation})
	case KindYesNo:
		return json.Marshal(yesNoShape{Answer: a.Value, Explanation: a.Explanation})
	}
	return nil, fmt.Errorf("form: unknown answer kind %d", a.Kind)
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*a = Answer{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Scalar(s)
		return nil
	case '[':
		var ss []string
		if err := json.Unmarshal(data, &ss); err != nil {
			return err
		}
		*a = List(ss...)
		return nil
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if _, ok := probe["answer"]; ok {
			var v yesNoShape
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			*a = YesNo(v.Answer, v.Explanation)
			return nil
		}
		if _, ok := probe["selected"]; ok {
			var v explanationShape
			if err := json.Unmarshal(data, &v); err != nil {
				return err
			}
			*a = ListWithExplanation(v.Selected, v.Explanation)
			return nil
		}
		return fmt.Errorf("form: unrecognized answer object shape")
	default:
		// bare numbers and booleans are kept as their literal text
		*a = Scalar(trimmed)
		return nil
	}
}

// ParseAnswers decodes a stored answer map.
func ParseAnswers(data []byte) (AnswerMap, error) {
	if len(data) == 0 {
		return AnswerMap{}, nil
	}
	answers := AnswerMap{}
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("form: parse answers: %w", err)
	}
	return answers, nil
}

// EncodeAnswers serializes an answer map for storage.
func EncodeAnswers(answers AnswerMap) ([]byte, error) {
	if answers == nil {
		answers = AnswerMap{}
	}
	return json.Marshal(answers)
}
