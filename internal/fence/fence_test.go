package fence

import (
	"errors"
	"testing"
)

func TestSingle(t *testing.T) {
	cases := []struct {
		name    string
		text    string
		want    string
		wantErr error
	}{
		{name: "go block", text: "Here you go:\n```go\nfunc F() {}\n```\nthanks", want: "func F() {}"},
		{name: "untagged block", text: "```\nx := 1\n```", want: "x := 1"},
		{name: "bare text", text: "  func F() {}\n", want: "func F() {}"},
		{name: "other language only", text: "```python\ndef f(): pass\n```", wantErr: ErrNoBlock},
		{name: "two blocks", text: "```go\na\n```\n```go\nb\n```", wantErr: ErrMultipleBlocks},
		{name: "unterminated", text: "```go\nfunc F() {", wantErr: ErrUnterminated},
		{name: "empty", text: "   ", wantErr: ErrNoBlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Single(tc.text, "go", "golang")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("single: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBlocksKeepLanguageTags(t *testing.T) {
	blocks, err := Blocks("```yaml\n- a\n```\ntext\n```GO\nb\n```")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 2 || blocks[0].Lang != "yaml" || blocks[1].Lang != "go" || blocks[1].Body != "b" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
}
