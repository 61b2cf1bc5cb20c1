package ask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantText  string
		wantRefs  []string
		wantError error
	}{
		{
			name:     "出典ブロックなし",
			raw:      "  Réponse simple.  ",
			wantText: "Réponse simple.",
		},
		{
			name:     "通常の出典ブロック",
			raw:      "Réponse.\n[SOURCES]\n[{\"reference\": \"Art. 41 CO\", \"title\": \"Responsabilité\", \"url\": \"u\"}]\n[/SOURCES]\nTexte après.",
			wantText: "Réponse.",
			wantRefs: []string{"Art. 41 CO"},
		},
		{
			name:     "コードフェンス付き",
			raw:      "Réponse.\n[SOURCES]\n```json\n[{\"reference\": \"Art. 8 CC\"}, {\"reference\": \"ATF 140 III 86\"}]\n```\n[/SOURCES]",
			wantText: "Réponse.",
			wantRefs: []string{"Art. 8 CC", "ATF 140 III 86"},
		},
		{
			name:     "閉じマーカーなし",
			raw:      "Réponse.\n[SOURCES]\n[{\"reference\": \"Art. 1 CO\"}]",
			wantText: "Réponse.",
			wantRefs: []string{"Art. 1 CO"},
		},
		{
			name:      "壊れたJSON",
			raw:       "Réponse.\n[SOURCES]\n[{\"reference\": \"Art. 1 CO\",]\n[/SOURCES]",
			wantText:  "Réponse.",
			wantError: ErrMalformedCitationBlock,
		},
		{
			name:     "空のブロック",
			raw:      "Réponse.\n[SOURCES]\n[/SOURCES]",
			wantText: "Réponse.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, citations, err := ParseResponse(tt.raw)
			if tt.wantError != nil {
				require.ErrorIs(t, err, tt.wantError)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantText, text)

			var refs []string
			for _, c := range citations {
				refs = append(refs, c.Reference)
				assert.False(t, c.Verified)
			}
			assert.Equal(t, tt.wantRefs, refs)
		})
	}
}
