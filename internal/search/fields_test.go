package search

import "testing"

// TestExtractClause_KnownFields verifies the priority order of the known
// field names.
func TestExtractClause_KnownFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		payload map[string]any
		want    string
		wantOK  bool
	}{
		{
			name:    "text preferred",
			payload: map[string]any{"text": "from text", "content": "from content"},
			want:    "from text",
			wantOK:  true,
		},
		{
			name:    "chunk_text before content",
			payload: map[string]any{"chunk_text": "from chunk_text", "content": "from content"},
			want:    "from chunk_text",
			wantOK:  true,
		},
		{
			name:    "content",
			payload: map[string]any{"content": "from content"},
			want:    "from content",
			wantOK:  true,
		},
		{
			name:    "description",
			payload: map[string]any{"description": "from description"},
			want:    "from description",
			wantOK:  true,
		},
		{
			name:    "body",
			payload: map[string]any{"body": "from body"},
			want:    "from body",
			wantOK:  true,
		},
		{
			name:    "empty text falls through",
			payload: map[string]any{"text": "   ", "content": "from content"},
			want:    "from content",
			wantOK:  true,
		},
		{
			name:    "non-string text falls through",
			payload: map[string]any{"text": 42, "content": "from content"},
			want:    "from content",
			wantOK:  true,
		},
		{
			name:    "no usable field",
			payload: map[string]any{"score": 0.91, "tag": "short"},
			wantOK:  false,
		},
		{
			name:    "empty payload",
			payload: map[string]any{},
			wantOK:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := extractClause(tc.payload)
			if ok != tc.wantOK {
				t.Fatalf("ok: expected %v, got %v", tc.wantOK, ok)
			}
			if ok && got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

// TestExtractClause_Fallback verifies the long-string fallback picks a
// deterministic field when no known name matches.
func TestExtractClause_Fallback(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"zz_passage": "this is a sufficiently long passage of clause text",
		"aa_passage": "another sufficiently long passage of clause text",
		"tag":        "short",
	}

	got, ok := extractClause(payload)
	if !ok {
		t.Fatal("expected fallback to find a long string")
	}
	// Keys are scanned in sorted order, so aa_passage wins every time.
	if got != "another sufficiently long passage of clause text" {
		t.Errorf("expected deterministic sorted-key choice, got %q", got)
	}
}

// TestExtractClause_FallbackMinLength verifies strings at or under the
// threshold are not treated as passages.
func TestExtractClause_FallbackMinLength(t *testing.T) {
	t.Parallel()

	exactly20 := "12345678901234567890"
	if _, ok := extractClause(map[string]any{"field": exactly20}); ok {
		t.Error("a 20-char string must not pass the >20 threshold")
	}
	if _, ok := extractClause(map[string]any{"field": exactly20 + "x"}); !ok {
		t.Error("a 21-char string must pass the threshold")
	}
}
