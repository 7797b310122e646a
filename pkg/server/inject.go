package server

import (
	"bytes"
	"fmt"
)

// Reload client behavior: reconnect with exponential backoff, doubling
// from the base delay up to the cap, then give up after the attempt
// ceiling and wait for a manual refresh.
const (
	reloadBaseDelayMS = 500
	reloadMaxDelayMS  = 30000
	reloadMaxAttempts = 10
)

const reloadClientTemplate = `<script>
(function () {
	var endpoint = %q;
	var attempts = 0;
	function connect() {
		var ws = new WebSocket(endpoint);
		ws.onopen = function () { attempts = 0; };
		ws.onmessage = function (msg) {
			if (msg.data === "reload") window.location.reload();
		};
		ws.onclose = function () {
			if (attempts >= %d) return;
			var delay = Math.min(%d * Math.pow(2, attempts), %d);
			attempts++;
			setTimeout(connect, delay);
		};
	}
	connect();
})();
</script>`

// reloadClient renders the script tag pointing at the reload endpoint.
func reloadClient(endpoint string) []byte {
	return []byte(fmt.Sprintf(reloadClientTemplate,
		endpoint, reloadMaxAttempts, reloadBaseDelayMS, reloadMaxDelayMS))
}

var (
	bodyClose = []byte("</body>")
	htmlClose = []byte("</html>")
)

// injectReloadScript places the client script into an HTML document:
// before </body> when present, otherwise before </html>, otherwise
// appended at the end of the content.
func injectReloadScript(content, script []byte) []byte {
	if idx := bytes.LastIndex(content, bodyClose); idx >= 0 {
		return spliceAt(content, script, idx)
	}
	if idx := bytes.LastIndex(content, htmlClose); idx >= 0 {
		return spliceAt(content, script, idx)
	}
	out := make([]byte, 0, len(content)+len(script))
	out = append(out, content...)
	return append(out, script...)
}

func spliceAt(content, script []byte, idx int) []byte {
	out := make([]byte, 0, len(content)+len(script))
	out = append(out, content[:idx]...)
	out = append(out, script...)
	return append(out, content[idx:]...)
}
