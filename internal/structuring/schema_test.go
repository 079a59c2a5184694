package structuring

import "testing"

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"leading prose", "Sure! {\"a\":1} Hope this helps.", `{"a":1}`},
		{"no object", "nothing here", "nothing here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanJSON(tt.in); got != tt.want {
				t.Errorf("cleanJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSchemaError_Message(t *testing.T) {
	err := &SchemaError{Kind: "answers", Problems: []string{"a", "b"}}
	if got := err.Error(); got != "structured answers: schema mismatch: a; b" {
		t.Errorf("Error() = %q", got)
	}
}

func TestDecode_MarksBounds(t *testing.T) {
	tests := []struct {
		name    string
		v       *Validator
		raw     string
		wantErr bool
	}{
		{"question marks at limit", questionsValidator,
			`{"questions":[{"questionNumber":"1","fullText":"x","marks":1000}]}`, false},
		{"question marks past int32", questionsValidator,
			`{"questions":[{"questionNumber":"1","fullText":"x","marks":4294967296}]}`, true},
		{"subpart marks too large", questionsValidator,
			`{"questions":[{"questionNumber":"1","fullText":"x","subparts":[{"label":"(a)","text":"y","marks":1001}]}]}`, true},
		{"answer marks too large", answersValidator,
			`{"answers":[{"questionNumber":"1","subparts":[{"label":"","answerText":"y","marks":5000}]}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out map[string]any
			err := tt.v.Decode(tt.raw, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if _, ok := err.(*SchemaError); tt.wantErr && !ok {
				t.Errorf("Decode() error = %T, want *SchemaError", err)
			}
		})
	}
}
