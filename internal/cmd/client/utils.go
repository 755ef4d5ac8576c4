package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	transports "github.com/zhongdj/reactiveservices/internal/cmd/client/transports"
	logpkg "github.com/zhongdj/reactiveservices/pkg/log"
)

// getTransport returns the transport the commands use. Only the WebSocket
// dialect transport exists today.
func getTransport(wsURL WSURLFunc) transports.StreamTransport {
	return transports.NewWSTransport(wsURL(), logpkg.NewLogger(logpkg.WithLevel(logpkg.WarnLevel)))
}

// parseTags converts repeated key=value flags into a tag map.
func parseTags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(flags))
	for _, f := range flags {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed tag %q, want key=value", f)
		}
		tags[k] = v
	}
	return tags, nil
}

// decodedPayload renders an ack payload as JSON, text, or base64,
// whichever fits.
func decodedPayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	if payload[0] == '{' || payload[0] == '[' {
		var v any
		if json.Unmarshal(payload, &v) == nil {
			return v
		}
	}
	if utf8.Valid(payload) {
		return string(payload)
	}
	return base64.StdEncoding.EncodeToString(payload)
}
