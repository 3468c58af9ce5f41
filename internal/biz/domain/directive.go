package domain

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMalformedDirective is returned when a SEND line does not follow the grammar
	ErrMalformedDirective = errors.New("malformed send directive")
	// ErrEmptyMessage is returned when there is nothing to send
	ErrEmptyMessage = errors.New("empty message")
)

const (
	maxDirectiveContact = 64
	maxDirectiveMessage = 4096
)

// SendDirective is a send request embedded in a model's free-text answer.
// Grammar, one directive per line:
//
//	SEND:<contact>:<message>
//
// contact has no ':' and is 1-64 characters; message is non-empty and runs
// to the end of the line.
type SendDirective struct {
	Contact string
	Message string
}

var (
	directiveRegex       = regexp.MustCompile(`^[ \t]*SEND:[ \t]*([^:\r\n]+?)[ \t]*:[ \t]*(\S[^\r\n]*?)[ \t]*$`)
	directivePrefixRegex = regexp.MustCompile(`^[ \t]*SEND:`)
)

// Validate checks the directive limits
func (d SendDirective) Validate() error {
	contact := strings.TrimSpace(d.Contact)
	if contact == "" || utf8.RuneCountInString(contact) > maxDirectiveContact {
		return ErrMalformedDirective
	}
	msg := strings.TrimSpace(d.Message)
	if msg == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(msg) > maxDirectiveMessage {
		return ErrMalformedDirective
	}
	return nil
}

// ExtractSendDirectives pulls SEND lines out of text. It returns the
// directives and the text with those lines removed. If any SEND line is
// malformed nothing is extracted and the text is returned unchanged.
func ExtractSendDirectives(text string) ([]SendDirective, string, error) {
	lines := strings.Split(text, "\n")
	var directives []SendDirective
	kept := make([]string, 0, len(lines))

	for _, line := range lines {
		if !directivePrefixRegex.MatchString(line) {
			kept = append(kept, line)
			continue
		}
		m := directiveRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			return nil, text, ErrMalformedDirective
		}
		d := SendDirective{Contact: strings.TrimSpace(m[1]), Message: strings.TrimSpace(m[2])}
		if err := d.Validate(); err != nil {
			return nil, text, err
		}
		directives = append(directives, d)
	}

	if len(directives) == 0 {
		return nil, text, nil
	}
	return directives, strings.TrimSpace(strings.Join(kept, "\n")), nil
}
