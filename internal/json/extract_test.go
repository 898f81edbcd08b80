package json

import (
	"testing"
)

type finding struct {
	Claim string `json:"claim"`
	Score int    `json:"score"`
}

func TestExtractJSONFromResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"pure", `{"claim": "growth", "score": 3}`},
		{"prefix", `Here you go: {"claim": "growth", "score": 3}`},
		{"suffix", `{"claim": "growth", "score": 3} hope this helps`},
		{"fenced", "```json\n{\"claim\": \"growth\", \"score\": 3}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONFromResponse[finding](tt.response)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Claim != "growth" || got.Score != 3 {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	got, err := ExtractJSON("rows: [1, 2, 3] done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "[1, 2, 3]" {
		t.Errorf("got %q", got)
	}
}

func TestExtractJSONInvalid(t *testing.T) {
	if _, err := ExtractJSON("no json here"); err == nil {
		t.Fatal("expected error")
	}
}

func TestExtractCodeBlock(t *testing.T) {
	resp := "Sure, here is the script:\n```python\nimport pandas as pd\nprint(1)\n```\nand another\n```\nx = 2\n```"
	got := ExtractCodeBlock(resp)
	if got != "import pandas as pd\nprint(1)" {
		t.Errorf("got %q", got)
	}
}

func TestExtractCodeBlockWithoutFence(t *testing.T) {
	if got := ExtractCodeBlock("print('hi')"); got != "print('hi')" {
		t.Errorf("got %q", got)
	}
	if got := ExtractCodeBlock("```python\nprint('hi')"); got != "print('hi')" {
		t.Errorf("unterminated fence: got %q", got)
	}
}

func TestLooksLikeJSON(t *testing.T) {
	if !LooksLikeJSON(` {"a": 1} `) {
		t.Error("object should look like JSON")
	}
	if !LooksLikeJSON(`[{"a": 1}]`) {
		t.Error("array should look like JSON")
	}
	if LooksLikeJSON(`{broken`) || LooksLikeJSON("plain text") || LooksLikeJSON("") {
		t.Error("non JSON accepted")
	}
}
