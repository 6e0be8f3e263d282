package models

import (
	"testing"
)

func TestSearchRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *SearchRequest
		wantErr bool
		wantK   int
	}{
		{"empty query", &SearchRequest{Store: "s", Query: ""}, true, 0},
		{"missing store", &SearchRequest{Query: "hello"}, true, 0},
		{"sets default k", &SearchRequest{Store: "s", Query: "x"}, false, 5},
		{"caps k at 100", &SearchRequest{Store: "s", Query: "x", K: 200}, false, 100},
		{"keeps k", &SearchRequest{Store: "s", Query: "x", K: 7}, false, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.req.K != tt.wantK {
				t.Errorf("K = %d, want %d", tt.req.K, tt.wantK)
			}
		})
	}
}

func TestGraphSearchRequest_Validate(t *testing.T) {
	if err := (&GraphSearchRequest{Store: "s", Start: "a"}).Validate(); err == nil {
		t.Error("missing end should fail")
	}
	r := &GraphSearchRequest{Store: "s", Start: "a", End: "b"}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.K != 5 {
		t.Errorf("K = %d", r.K)
	}
}

func TestInterpolateRequest_Validate(t *testing.T) {
	r := &InterpolateRequest{Store: "s", SentenceA: "a", SentenceB: "b"}
	if err := r.Validate(); err != nil {
		t.Fatal(err)
	}
	if r.Steps != 5 {
		t.Errorf("Steps = %d", r.Steps)
	}
	if err := (&InterpolateRequest{Store: "s", SentenceA: "a", SentenceB: "b", Steps: 51}).Validate(); err == nil {
		t.Error("too many steps should fail")
	}
}

func TestAddTextsRequest_AllTexts(t *testing.T) {
	r := &AddTextsRequest{Store: "s", Texts: []string{"a"}, Text: "b"}
	if got := r.AllTexts(); len(got) != 2 || got[1] != "b" {
		t.Errorf("AllTexts = %v", got)
	}
	if err := (&AddTextsRequest{Store: "s"}).Validate(); err == nil {
		t.Error("no texts should fail")
	}
}
