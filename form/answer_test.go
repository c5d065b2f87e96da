package form

import (
	"reflect"
	"testing"
)

func TestParseAnswersWireShapes(t *testing.T) {
	data := []byte(`{
		"organization_name": "Acme BV",
		"salary_step": 7,
		"allowance_types": {"selected": ["Travel allowance", "Other"], "explanation": "bike plan"},
		"works_council_consulted": {"answer": "yes", "explanation": "consulted in May"},
		"tags": ["a", "b"],
		"empty": null
	}`)

	answers, err := ParseAnswers(data)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id   string
		want Answer
	}{
		{"organization_name", Scalar("Acme BV")},
		{"salary_step", Scalar("7")},
		{"allowance_types", ListWithExplanation([]string{"Travel allowance", "Other"}, "bike plan")},
		{"works_council_consulted", YesNo("yes", "consulted in May")},
		{"tags", List("a", "b")},
		{"empty", Answer{}},
	}
	for _, tt := range tests {
		if got := answers[tt.id]; !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%s: got %+v, want %+v", tt.id, got, tt.want)
		}
	}
}

func TestAnswersRoundTrip(t *testing.T) {
	original := AnswerMap{
		"a": Scalar("text"),
		"b": List("one", "two"),
		"c": ListWithExplanation([]string{"Other"}, "why"),
		"d": YesNo("no", ""),
	}

	data, err := EncodeAnswers(original)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := ParseAnswers(data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(original, decoded) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, original)
	}
}

func TestAnswerMapCloneIsIndependent(t *testing.T) {
	original := AnswerMap{"list": List("a")}
	clone := original.Clone()
	clone["list"].Selected[0] = "mutated"
	clone["new"] = Scalar("x")

	if original["list"].Selected[0] != "a" {
		t.Error("mutating a clone's slice leaked into the original")
	}
	if _, ok := original["new"]; ok {
		t.Error("adding to a clone leaked into the original")
	}
}
