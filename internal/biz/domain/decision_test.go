package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Decision
		wantErr bool
	}{
		{
			name: "notify only",
			raw:  "NO\nNO\nChen wants to meet at 3pm",
			want: &Decision{Summary: "Chen wants to meet at 3pm"},
		},
		{
			name: "auto reply",
			raw:  "YES\nYES\nChen\nSorry, I have a meeting at 3pm\nDeclined Chen's 3pm invite",
			want: &Decision{
				SpeakAloud: true,
				ShouldSend: true,
				Recipient:  "Chen",
				ReplyText:  "Sorry, I have a meeting at 3pm",
				Summary:    "Declined Chen's 3pm invite",
			},
		},
		{
			name: "code fence and blank lines",
			raw:  "```\nyes\n\nNO\n\n  Maria sent a photo  \n```",
			want: &Decision{SpeakAloud: true, Summary: "Maria sent a photo"},
		},
		{
			name: "fence with language tag",
			raw:  "```text\nNO\nNO\nsummary\n```",
			want: &Decision{Summary: "summary"},
		},
		{
			name: "labelled fields",
			raw:  "SPEAK_ALOUD: NO\nSHOULD_SEND = YES\nRecipient: Chen\nReply: On my way\nSummary: Told Chen I'm coming",
			want: &Decision{
				ShouldSend: true,
				Recipient:  "Chen",
				ReplyText:  "On my way",
				Summary:    "Told Chen I'm coming",
			},
		},
		{
			name: "labelled summary without send",
			raw:  "SPEAK_ALOUD: YES\nSHOULD_SEND: NO\nSummary: Chen wants to meet at 3pm",
			want: &Decision{SpeakAloud: true, Summary: "Chen wants to meet at 3pm"},
		},
		{
			name:    "only two lines",
			raw:     "NO\nNO",
			wantErr: true,
		},
		{
			name:    "unparseable first line",
			raw:     "Maybe\nNO\nsummary",
			wantErr: true,
		},
		{
			name:    "unparseable second line",
			raw:     "NO\nperhaps later\nsummary",
			wantErr: true,
		},
		{
			name:    "send without reply lines",
			raw:     "NO\nYES\nChen",
			wantErr: true,
		},
		{
			name:    "empty",
			raw:     "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDecisionFormat)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
