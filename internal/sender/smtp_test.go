package sender

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taumail/mailsync/internal/model"
)

func TestNewMessageID_UsesSenderDomain(t *testing.T) {
	id := newMessageID("alice@example.com")
	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))
}

func TestNewMessageID_FallsBackWithoutDomain(t *testing.T) {
	assert.True(t, strings.HasSuffix(newMessageID("alice"), "@localhost>"))
	assert.True(t, strings.HasSuffix(newMessageID(""), "@localhost>"))
}

func TestComposeMessage_PlainText(t *testing.T) {
	msg := model.OutgoingMessage{
		To:      []string{"bob@example.com", "carol@example.com"},
		Subject: "hello",
		Text:    "plain body",
	}
	body := composeMessage("<id@example.com>", "alice@example.com", msg)

	assert.Contains(t, body, "Message-ID: <id@example.com>\r\n")
	assert.Contains(t, body, "From: alice@example.com\r\n")
	assert.Contains(t, body, "To: bob@example.com, carol@example.com\r\n")
	assert.Contains(t, body, "Subject: hello\r\n")
	assert.Contains(t, body, "Content-Type: text/plain; charset=UTF-8\r\n\r\nplain body")
	assert.NotContains(t, body, "multipart/alternative")
}

func TestComposeMessage_HTMLOnly(t *testing.T) {
	msg := model.OutgoingMessage{
		To:      []string{"bob@example.com"},
		Subject: "hello",
		HTML:    "<p>rich body</p>",
	}
	body := composeMessage("<id@example.com>", "alice@example.com", msg)

	assert.Contains(t, body, "Content-Type: text/html; charset=UTF-8\r\n\r\n<p>rich body</p>")
	assert.NotContains(t, body, "multipart/alternative")
}

func TestComposeMessage_MultipartAlternative(t *testing.T) {
	msg := model.OutgoingMessage{
		To:      []string{"bob@example.com"},
		Subject: "hello",
		Text:    "plain body",
		HTML:    "<p>rich body</p>",
	}
	body := composeMessage("<id@example.com>", "alice@example.com", msg)

	require.Contains(t, body, "Content-Type: multipart/alternative; boundary=")
	assert.Contains(t, body, "plain body")
	assert.Contains(t, body, "<p>rich body</p>")

	// The boundary must close the container.
	start := strings.Index(body, "boundary=\"") + len("boundary=\"")
	end := strings.Index(body[start:], "\"")
	require.Greater(t, end, 0)
	boundary := body[start : start+end]
	assert.Contains(t, body, "--"+boundary+"--")
}
