package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrDecisionFormat is returned when a completion does not follow the decision format
var ErrDecisionFormat = errors.New("malformed decision")

// Decision is the parsed answer of the reply decision prompt
type Decision struct {
	SpeakAloud bool
	ShouldSend bool
	Recipient  string // only when ShouldSend
	ReplyText  string // only when ShouldSend
	Summary    string
}

// yesNoRegex accepts "YES", "no", or a labelled form like "SPEAK_ALOUD: YES"
var yesNoRegex = regexp.MustCompile(`(?i)^(?:[a-z_ ]+\s*[:=]\s*)?(yes|no)[.!]?$`)

// ParseDecision parses the fixed multi-line decision format:
//
//	SPEAK_ALOUD (YES|NO)
//	SHOULD_SEND (YES|NO)
//	recipient, reply text, summary   when SHOULD_SEND is YES
//	summary                          when SHOULD_SEND is NO
//
// Code fences around the answer and blank lines are ignored.
func ParseDecision(raw string) (*Decision, error) {
	lines := decisionLines(raw)
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 lines, got %d", ErrDecisionFormat, len(lines))
	}

	speak, err := parseYesNo(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%w: line 1: %v", ErrDecisionFormat, err)
	}
	send, err := parseYesNo(lines[1])
	if err != nil {
		return nil, fmt.Errorf("%w: line 2: %v", ErrDecisionFormat, err)
	}

	d := &Decision{SpeakAloud: speak, ShouldSend: send}
	if !send {
		d.Summary = stripLabel(lines[2])
		return d, nil
	}

	if len(lines) < 5 {
		return nil, fmt.Errorf("%w: auto-reply needs 5 lines, got %d", ErrDecisionFormat, len(lines))
	}
	d.Recipient = stripLabel(lines[2])
	d.ReplyText = stripLabel(lines[3])
	d.Summary = stripLabel(lines[4])
	if d.Recipient == "" || d.ReplyText == "" {
		return nil, fmt.Errorf("%w: empty recipient or reply", ErrDecisionFormat)
	}
	return d, nil
}

// decisionLines strips code fences and returns the trimmed non-empty lines
func decisionLines(raw string) []string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		if i := strings.Index(text, "\n"); i >= 0 {
			text = text[i+1:]
		} else {
			text = ""
		}
	}
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, "```") {
		text = strings.TrimSuffix(text, "```")
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func parseYesNo(line string) (bool, error) {
	m := yesNoRegex.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return false, fmt.Errorf("want YES or NO, got %q", Truncate(line, 40))
	}
	return strings.EqualFold(m[1], "yes"), nil
}

// labelRegex matches the field labels a model sometimes echoes back
var labelRegex = regexp.MustCompile(`(?i)^(recipient|send_to|to|reply|reply_text|message|summary)\s*[:=]\s*`)

func stripLabel(line string) string {
	return strings.TrimSpace(labelRegex.ReplaceAllString(line, ""))
}
