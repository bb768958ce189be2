// Package transport defines chat-platform-neutral types. The concrete
// Telegram implementation lives in transport/telegram.
package transport

import "context"

// Update is an inbound event from the chat platform.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget addresses an outbound message.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "HTML" or empty for plain text
	DisablePreview bool
}

// Sender is the minimal outbound surface. Components that only emit
// messages (logging mirror, dispatcher) depend on this, not on the
// full Adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPhoto sends a photo by URL with an optional caption.
	SendPhoto(ctx context.Context, to ChatTarget, photoURL, caption string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Sender

	// Start begins receiving updates into out. It returns once the receive
	// loop is running; Ready() is closed when the platform connection is
	// established.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	Ready() <-chan struct{}
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// sync the platform's command menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
