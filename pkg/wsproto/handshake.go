package wsproto

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// websocketGUID is the fixed GUID from RFC 6455 Section 1.3.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// ErrMissingKey indicates an upgrade request without Sec-WebSocket-Key.
var ErrMissingKey = errors.New("wsproto: missing Sec-WebSocket-Key header")

// BadRequestResponse is written verbatim before closing the transport
// when an upgrade request carries no key.
const BadRequestResponse = "HTTP/1.1 400 Bad Request\r\n\r\n"

// AcceptKey computes the Sec-WebSocket-Accept value for a client key:
// base64(sha1(key + GUID)).
func AcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// UpgradeResponse builds the 101 Switching Protocols response for the
// given client key, terminated by an empty line.
func UpgradeResponse(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrMissingKey
	}

	var sb strings.Builder
	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&sb, "Sec-WebSocket-Accept: %s\r\n", AcceptKey(key))
	sb.WriteString("\r\n")
	return sb.String(), nil
}
