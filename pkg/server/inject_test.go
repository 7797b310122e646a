package server

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectReloadScript_BeforeBodyClose(t *testing.T) {
	page := []byte("<html><body><p>hi</p></body></html>")
	script := []byte("<script>x</script>")

	out := injectReloadScript(page, script)

	assert.Equal(t, "<html><body><p>hi</p><script>x</script></body></html>", string(out))
}

func TestInjectReloadScript_BeforeHTMLCloseWhenNoBody(t *testing.T) {
	page := []byte("<html><p>hi</p></html>")
	script := []byte("<script>x</script>")

	out := injectReloadScript(page, script)

	assert.Equal(t, "<html><p>hi</p><script>x</script></html>", string(out))
}

func TestInjectReloadScript_AppendsWhenNoMarkers(t *testing.T) {
	page := []byte("<p>fragment</p>")
	script := []byte("<script>x</script>")

	out := injectReloadScript(page, script)

	assert.Equal(t, "<p>fragment</p><script>x</script>", string(out))
}

func TestInjectReloadScript_UsesLastBodyClose(t *testing.T) {
	page := []byte("<body>fake </body> tag in text</body></html>")
	script := []byte("<s>")

	out := injectReloadScript(page, script)

	idx := bytes.LastIndex(out, []byte("<s>"))
	require.Positive(t, idx)
	assert.True(t, bytes.HasPrefix(out[idx+len("<s>"):], []byte("</body></html>")))
}

func TestReloadClient_EmbedsEndpoint(t *testing.T) {
	script := string(reloadClient("ws://127.0.0.1:35729/"))

	assert.True(t, strings.HasPrefix(script, "<script>"))
	assert.True(t, strings.HasSuffix(script, "</script>"))
	assert.Contains(t, script, `"ws://127.0.0.1:35729/"`)
	assert.Contains(t, script, "window.location.reload()")
}
