package transport

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyMedia = errors.New("empty media payload")

// ErrorKind is the three-way classification of a failed send.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindMigrated
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindMigrated:
		return "migrated"
	case KindPermanent:
		return "permanent"
	default:
		return "other"
	}
}

// SendError is returned by Outbound implementations.
type SendError struct {
	Kind        ErrorKind
	ChatID      int64
	MigratedTo  int64
	Description string
	Err         error
}

func (e *SendError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "send to %d: %s", e.ChatID, e.Kind)
	if e.Kind == KindMigrated {
		fmt.Fprintf(&b, " to %d", e.MigratedTo)
	}
	if e.Description != "" {
		b.WriteString(": " + e.Description)
	} else if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *SendError) Unwrap() error { return e.Err }

// Classify returns the kind of err. Errors that are not a *SendError are KindOther.
func Classify(err error) (ErrorKind, *SendError) {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind, se
	}
	return KindOther, nil
}

// permanentMarkers are lowercased fragments of Telegram error descriptions that
// mean the chat will not accept messages from the bot again.
var permanentMarkers = []string{
	"bot was blocked",
	"user is deactivated",
	"chat not found",
	"bot is not a member",
	"bot was kicked",
	"group chat was deactivated",
	"need administrator rights",
	"chat_write_forbidden",
	"have no rights to send",
	"not enough rights",
	"peer_id_invalid",
}

// IsPermanentDescription matches an error description against permanentMarkers.
func IsPermanentDescription(desc string) bool {
	d := strings.ToLower(desc)
	for _, m := range permanentMarkers {
		if strings.Contains(d, m) {
			return true
		}
	}
	return false
}
