// Package transport defines the chat-adapter contract the bot core
// talks to. Adapters translate between these types and a concrete
// messaging platform.
package transport

import "context"

type Update struct {
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	ChatID    int64
	FromID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// InlineButton is one pressable button; Data comes back verbatim in a
// Callback.
type InlineButton struct {
	Text string
	Data string
}

// InlineKeyboard is rows of buttons attached to a message.
type InlineKeyboard [][]InlineButton

type SendOptions struct {
	ParseMode      string // "" plain, "Markdown", "HTML"
	DisablePreview bool
	Keyboard       InlineKeyboard
}

// BotCommand is one entry of the platform's command menu.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter interface {
	// Start begins delivering incoming updates to out. Non-blocking;
	// the adapter owns its polling goroutines until Stop.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// SetCommands replaces the platform command menu. Best-effort.
	SetCommands(ctx context.Context, cmds []BotCommand) error
}
