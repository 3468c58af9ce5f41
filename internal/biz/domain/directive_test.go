package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSendDirectives(t *testing.T) {
	text := "Done, I'll let him know.\nSEND:Chen:Can't make it, sorry. Rain check?\nAnything else?"

	directives, cleaned, err := ExtractSendDirectives(text)

	require.NoError(t, err)
	require.Len(t, directives, 1)
	assert.Equal(t, SendDirective{Contact: "Chen", Message: "Can't make it, sorry. Rain check?"}, directives[0])
	assert.Equal(t, "Done, I'll let him know.\nAnything else?", cleaned)
}

func TestExtractSendDirectives_MessageMayContainColons(t *testing.T) {
	directives, cleaned, err := ExtractSendDirectives("SEND: Maria : meet at 10:30 instead")

	require.NoError(t, err)
	require.Len(t, directives, 1)
	assert.Equal(t, "Maria", directives[0].Contact)
	assert.Equal(t, "meet at 10:30 instead", directives[0].Message)
	assert.Empty(t, cleaned)
}

func TestExtractSendDirectives_Multiple(t *testing.T) {
	directives, _, err := ExtractSendDirectives("SEND:Chen:hi\nSEND:Maria:hello")

	require.NoError(t, err)
	assert.Len(t, directives, 2)
}

func TestExtractSendDirectives_NoDirective(t *testing.T) {
	text := "It's sunny today. Send: nothing here because it's not at line start? no"

	directives, cleaned, err := ExtractSendDirectives(text)

	require.NoError(t, err)
	assert.Empty(t, directives)
	assert.Equal(t, text, cleaned)
}

func TestExtractSendDirectives_MalformedLeavesTextUntouched(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing message", "Sure.\nSEND:Chen:\nBye"},
		{"missing contact", "SEND::hello"},
		{"no separator", "SEND:Chen hello there"},
		{"one good one bad", "SEND:Chen:hello\nSEND:Maria"},
		{"contact too long", "SEND:" + strings.Repeat("x", 65) + ":hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			directives, cleaned, err := ExtractSendDirectives(tt.text)

			assert.Error(t, err)
			assert.Nil(t, directives)
			assert.Equal(t, tt.text, cleaned)
		})
	}
}

func TestSendDirective_Validate(t *testing.T) {
	assert.NoError(t, SendDirective{Contact: "Chen", Message: "hi"}.Validate())
	assert.ErrorIs(t, SendDirective{Contact: "Chen", Message: "  "}.Validate(), ErrEmptyMessage)
	assert.ErrorIs(t, SendDirective{Contact: "", Message: "hi"}.Validate(), ErrMalformedDirective)
}
