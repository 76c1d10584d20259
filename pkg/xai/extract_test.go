package xai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText_OutputTextField(t *testing.T) {
	got := ExtractText([]byte(`{"output_text":"direct answer"}`))
	assert.Equal(t, "direct answer", got)
}

func TestExtractText_ResponsesOutputScannedBackwards(t *testing.T) {
	body := `{"output":[
		{"type":"web_search_call","status":"completed"},
		{"type":"message","content":[{"type":"output_text","text":"from message"}]}
	]}`
	assert.Equal(t, "from message", ExtractText([]byte(body)))

	body = `{"output":[
		{"type":"web_search_call"},
		{"type":"output_text","text":"bare block"}
	]}`
	assert.Equal(t, "bare block", ExtractText([]byte(body)))
}

func TestExtractText_ChatCompletions(t *testing.T) {
	body := `{"choices":[{"message":{"content":"legacy shape"}}]}`
	assert.Equal(t, "legacy shape", ExtractText([]byte(body)))
}

func TestExtractText_DirectContentField(t *testing.T) {
	assert.Equal(t, "proxied", ExtractText([]byte(`{"content":"proxied"}`)))
}

func TestExtractJSON_DirectParse(t *testing.T) {
	raw := ExtractJSON(`{"reviews":[],"next_offset":10}`)
	require.NotNil(t, raw)
}

func TestExtractJSON_ObjectEmbeddedInProse(t *testing.T) {
	text := "Here are the results you asked for:\n```json\n{\"tagline\":\"Built to last\",\"tagline_status\":\"ok\"}\n```\nLet me know if you need more."
	raw := ExtractJSON(text)
	require.NotNil(t, raw)
	assert.Contains(t, string(raw), `"Built to last"`)
}

func TestExtractJSON_ArrayFallback(t *testing.T) {
	text := "The matching reviews are: [{\"title\":\"Great widgets\"}] — verified."
	raw := ExtractJSON(text)
	require.NotNil(t, raw)
	assert.Contains(t, string(raw), "Great widgets")
}

func TestExtractJSON_NoJSON(t *testing.T) {
	assert.Nil(t, ExtractJSON("I could not find any relevant results."))
	assert.Nil(t, ExtractJSON(""))
	// A bare scalar is not a usable payload.
	assert.Nil(t, ExtractJSON("42"))
}
