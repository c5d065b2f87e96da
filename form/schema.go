package form

import (
	_ "embed"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

type QuestionType string

const (
	TypeText                       QuestionType = "TEXT"
	TypeTextarea                   QuestionType = "TEXTAREA"
	TypeNumber                     QuestionType = "NUMBER"
	TypeMoney                      QuestionType = "MONEY"
	TypePercent                    QuestionType = "PERCENT"
	TypeSelect                     QuestionType = "SELECT"
	TypeMultiselect                QuestionType = "MULTISELECT"
	TypeMultiselectWithExplanation QuestionType = "MULTISELECT_WITH_EXPLANATION"
	TypeYesNoWithExplanation       QuestionType = "YES_NO_WITH_EXPLANATION"
	TypeRadio                      QuestionType = "RADIO"
	TypeDate                       QuestionType = "DATE"
	TypeFile                       QuestionType = "FILE"
)

type ValidationRule struct {
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Conditional controls question visibility based on another question's
// answer. Hide conditions take precedence over show conditions.
type Conditional struct {
	DependsOn string     `json:"dependsOn"`
	ShowWhen  StringList `json:"showWhen"`
	HideWhen  StringList `json:"hideWhen,omitempty"`
}

type Question struct {
	ID          string          `json:"id"`
	Text        string          `json:"text"`
	Type        QuestionType    `json:"type"`
	Order       int             `json:"order"`
	Required    bool            `json:"isRequired"`
	Validation  *ValidationRule `json:"validation,omitempty"`
	Options     []string        `json:"options,omitempty"`
	Conditional *Conditional    `json:"conditionalLogic,omitempty"`
	HelpText    string          `json:"helpText,omitempty"`
}

type Section struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Order     int        `json:"order"`
	Required  bool       `json:"isRequired"`
	Questions []Question `json:"questions"`
}

type Schema struct {
	Sections []Section `json:"sections"`
}

// StringList accepts either a bare string or an array of strings on the
// wire, matching the schema format the conditional rules were written in.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err != nil {
		return err
	}
	*l = StringList(ss)
	return nil
}

//go:embed schema.json
var defaultSchemaJSON []byte

// DefaultSchema returns the embedded SUGB survey schema.
func DefaultSchema() *Schema {
	schema, err := ParseSchema(defaultSchemaJSON)
	if err != nil {
		panic("form: embedded schema is invalid: " + err.Error())
	}
	return schema
}

// ParseSchema decodes a schema and checks its structural invariants:
// question ids must be unique across the whole schema, since conditional
// rules reference them globally. Sections and questions are sorted by
// their declared order.
func ParseSchema(data []byte) (*Schema, error) {
	schema := &Schema{}
	if err := json.Unmarshal(data, schema); err != nil {
		return nil, fmt.Errorf("form: parse schema: %w", err)
	}
	if len(schema.Sections) == 0 {
		return nil, fmt.Errorf("form: schema has no sections")
	}

	sort.SliceStable(schema.Sections, func(i, j int) bool {
		return schema.Sections[i].Order < schema.Sections[j].Order
	})

	seen := make(map[string]bool)
	for si := range schema.Sections {
		sec := &schema.Sections[si]
		if sec.ID == "" {
			return nil, fmt.Errorf("form: section %d has no id", si)
		}
		sort.SliceStable(sec.Questions, func(i, j int) bool {
			return sec.Questions[i].Order < sec.Questions[j].Order
		})
		for _, q := range sec.Questions {
			if q.ID == "" {
				return nil, fmt.Errorf("form: section %q has a question with no id", sec.ID)
			}
			if seen[q.ID] {
				return nil, fmt.Errorf("form: duplicate question id %q", q.ID)
			}
			seen[q.ID] = true
		}
	}

	for _, sec := range schema.Sections {
		for _, q := range sec.Questions {
			if q.Conditional != nil && !seen[q.Conditional.DependsOn] {
				return nil, fmt.Errorf("form: question %q depends on unknown question %q", q.ID, q.Conditional.DependsOn)
			}
		}
	}

	return schema, nil
}

// QuestionByID finds a question anywhere in the schema.
func (s *Schema) QuestionByID(id string) (Question, bool) {
	for _, sec := range s.Sections {
		for _, q := range sec.Questions {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}
