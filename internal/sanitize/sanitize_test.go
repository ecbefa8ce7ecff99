package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextStripsTags(t *testing.T) {
	assert.Equal(t, "hello", Text("<script>alert(1)</script>hello"))
	assert.Equal(t, "bold", Text("<b>bold</b>"))
	assert.Equal(t, "trimmed", Text("  trimmed  "))
}

func TestTextStripsDangerousSchemes(t *testing.T) {
	assert.NotContains(t, Text("click javascript:alert(1)"), "javascript:")
	assert.NotContains(t, Text("vbscript:msgbox"), "vbscript:")
	assert.NotContains(t, Text("data:text/html,x"), "data:")

	// Split-and-rejoin must not reconstruct a scheme.
	out := Text("jajavascript:vascript:alert(1)")
	assert.NotContains(t, strings.ToLower(out), "javascript:")
}

func TestTextStripsEventHandlers(t *testing.T) {
	assert.NotContains(t, Text("x onclick=evil()"), "onclick=")
	assert.NotContains(t, Text("x ONLOAD = evil()"), "ONLOAD =")
}

func TestMessageBodyKeepsFormattingTags(t *testing.T) {
	assert.Equal(t, "<b>bold</b> and <i>italic</i>", MessageBody("<b>bold</b> and <i>italic</i>"))
	assert.Equal(t, "line<br/>break", MessageBody("line<br>break"))
}

func TestMessageBodyDropsAttributesAndScripts(t *testing.T) {
	out := MessageBody(`<b onclick="evil()">hi</b>`)
	assert.NotContains(t, out, "onclick")
	assert.Contains(t, out, "hi")

	out = MessageBody(`<script>steal()</script>safe`)
	assert.NotContains(t, out, "script")
	assert.Contains(t, out, "safe")

	out = MessageBody(`<a href="javascript:alert(1)">link</a>`)
	assert.NotContains(t, out, "javascript:")
	assert.NotContains(t, out, "<a")
}

func TestMessageBodyClampsLength(t *testing.T) {
	long := strings.Repeat("x", MaxMessageLen+500)
	assert.Len(t, []rune(MessageBody(long)), MaxMessageLen)

	// Clamp counts runes, not bytes.
	wide := strings.Repeat("é", MaxMessageLen+10)
	assert.Len(t, []rune(MessageBody(wide)), MaxMessageLen)
}

func TestRoomNameClampsLength(t *testing.T) {
	long := strings.Repeat("r", MaxRoomNameLen+20)
	assert.Len(t, []rune(RoomName(long)), MaxRoomNameLen)
	assert.Equal(t, "general", RoomName("<h1>general</h1>"))
}

func TestSanitizersAreIdempotent(t *testing.T) {
	inputs := []string{
		"plain text",
		"<script>x</script>hello",
		"<b>keep</b> javascript:drop",
		"  spaced  ",
		strings.Repeat("long", 1000),
	}
	for _, in := range inputs {
		once := Text(in)
		assert.Equal(t, once, Text(once), "Text not stable on %q", in)

		once = MessageBody(in)
		assert.Equal(t, once, MessageBody(once), "MessageBody not stable on %q", in)

		once = RoomName(in)
		assert.Equal(t, once, RoomName(once), "RoomName not stable on %q", in)
	}
}

func TestEmptyAfterScrubbing(t *testing.T) {
	assert.Empty(t, MessageBody("<script>only a payload</script>"))
	assert.Empty(t, Text("   "))
}
