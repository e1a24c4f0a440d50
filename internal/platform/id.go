package platform

import (
	"fmt"
	"strings"
)

// CompositeID joins a channel (or room) identifier with a message identifier
// for services that address messages by both.
func CompositeID(channel, message string) string {
	return channel + "/" + message
}

// SplitID splits a composite "channel/message" identifier.
func SplitID(id string) (channel, message string, err error) {
	channel, message, ok := strings.Cut(id, "/")
	if !ok || channel == "" || message == "" {
		return "", "", fmt.Errorf("malformed message id %q, want channel/message", id)
	}
	return channel, message, nil
}
