// Package sanitize scrubs user-authored strings before persistence.
// Every function is a fixed point under re-application.
package sanitize

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Length clamps applied after scrubbing.
const (
	MaxMessageLen  = 2000
	MaxRoomNameLen = 100
)

var (
	// strict drops every tag and entity-escapes the remaining text.
	strict = bluemonday.StrictPolicy()

	// message permits basic formatting tags with no attributes. Event
	// handlers and styles never survive because no attribute is allowed.
	message = func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowElements("b", "i", "u", "em", "strong", "br", "p")
		return p
	}()

	// dangerousScheme matches URI schemes that execute on click, plus
	// inline event handler fragments that could leak through plain text.
	dangerousScheme = regexp.MustCompile(`(?i)(javascript|vbscript|data)\s*:`)
	eventHandler    = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// stripDangerous removes scheme and handler fragments. Loops until the
// text is stable so split-and-rejoin tricks ("jajavascript:vascript:")
// cannot reconstruct a scheme.
func stripDangerous(s string) string {
	for {
		next := dangerousScheme.ReplaceAllString(s, "")
		next = eventHandler.ReplaceAllString(next, "")
		if next == s {
			return s
		}
		s = next
	}
}

// clampRunes truncates s to at most n runes.
func clampRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Text scrubs a plain-text field: tags stripped, entities escaped,
// executable URI schemes removed, surrounding whitespace trimmed.
func Text(s string) string {
	s = strict.Sanitize(s)
	s = stripDangerous(s)
	return strings.TrimSpace(s)
}

// MessageBody scrubs a message body. Basic formatting tags (b, i, u, em,
// strong, br, p) survive without attributes; everything else is stripped.
// The result is clamped to MaxMessageLen runes.
func MessageBody(s string) string {
	s = message.Sanitize(s)
	s = stripDangerous(s)
	s = strings.TrimSpace(s)
	return clampRunes(s, MaxMessageLen)
}

// RoomName scrubs a room name and clamps it to MaxRoomNameLen runes.
func RoomName(s string) string {
	return clampRunes(Text(s), MaxRoomNameLen)
}
