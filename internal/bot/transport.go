// Package bot hosts the dispatch loop that serializes all user actions, the
// command handlers, and the broadcast fan-out. The chat platform itself is an
// external collaborator reached through the Transport interface.
package bot

import (
	"context"
	"strings"
)

// Transport is the message surface of the chat platform. Implementations
// must be safe for concurrent use: the dispatch loop and the broadcaster
// both send through it.
type Transport interface {
	// SendMessage delivers text to a user and returns the platform's
	// message ID so it can be edited later.
	SendMessage(ctx context.Context, userID, text string) (string, error)

	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, userID, messageID, text string) error

	// SendFile delivers a local file to a user with a caption.
	SendFile(ctx context.Context, userID, filePath, caption string) error
}

// Command is one inbound user action, already parsed by the transport layer.
type Command struct {
	UserID      string
	DisplayName string
	Name        string
	Args        []string
}

func (c Command) arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return strings.TrimSpace(c.Args[i])
}

func (c Command) rest(from int) string {
	if from >= len(c.Args) {
		return ""
	}
	return strings.TrimSpace(strings.Join(c.Args[from:], " "))
}
