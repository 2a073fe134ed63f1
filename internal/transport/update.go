package transport

import "context"

type UpdateKind int

const (
	UpdateRelay UpdateKind = iota + 1
	UpdateCommand
	UpdateCallback
	UpdateMembership
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateRelay:
		return "relay"
	case UpdateCommand:
		return "command"
	case UpdateCallback:
		return "callback"
	case UpdateMembership:
		return "membership"
	default:
		return "unknown"
	}
}

type ChatType string

const (
	ChatPrivate    ChatType = "private"
	ChatGroup      ChatType = "group"
	ChatSuperGroup ChatType = "supergroup"
	ChatChannel    ChatType = "channel"
)

// IsGroup reports whether the chat is a basic group or a supergroup.
func (t ChatType) IsGroup() bool { return t == ChatGroup || t == ChatSuperGroup }

// Chat identifies where an update happened.
type Chat struct {
	ID    int64
	Type  ChatType
	Title string
}

// Update is one inbound event. Exactly one of the pointer fields is set,
// matching Kind.
type Update struct {
	Kind       UpdateKind
	Relay      *InboundMessage
	Command    *Command
	Callback   *Callback
	Membership *Membership
}

// Command is a slash command addressed to the bot.
type Command struct {
	Chat      Chat
	MessageID int
	FromID    int64
	FromName  string
	Name      string // without the leading slash or @bot suffix
	Args      []string
}

// Callback is an inline keyboard press.
type Callback struct {
	ID        string
	Chat      Chat
	MessageID int
	FromID    int64
	Data      string
}

// MemberStatus is the bot's own membership status in a chat.
type MemberStatus string

const (
	StatusCreator       MemberStatus = "creator"
	StatusAdministrator MemberStatus = "administrator"
	StatusMember        MemberStatus = "member"
	StatusRestricted    MemberStatus = "restricted"
	StatusLeft          MemberStatus = "left"
	StatusKicked        MemberStatus = "kicked"
)

// Present reports whether the bot can receive relayed messages with this status.
func (s MemberStatus) Present() bool {
	return s == StatusMember || s == StatusAdministrator || s == StatusCreator
}

// Gone reports whether the bot has been removed from the chat.
func (s MemberStatus) Gone() bool { return s == StatusLeft || s == StatusKicked }

// Membership reports a change in the bot's own status in a chat.
type Membership struct {
	Chat Chat
	ByID int64
	Old  MemberStatus
	New  MemberStatus
}

// Interactive covers the chat operations used by bot commands.
type Interactive interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	Edit(ctx context.Context, chatID int64, messageID int, text, parseMode string, rows [][]Button) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}
