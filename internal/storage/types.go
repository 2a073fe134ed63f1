package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records one relayed message or one admin action.
type AuditEntry struct {
	At      time.Time `json:"at"`
	ActorID int64     `json:"actor_id,omitempty"`
	ChatID  int64     `json:"chat_id,omitempty"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	OK      int       `json:"ok,omitempty"`
	Fail    int       `json:"fail,omitempty"`
	Error   string    `json:"error,omitempty"`
	TookMS  int64     `json:"took_ms,omitempty"`
	Meta    string    `json:"meta,omitempty"`
}

// Audit actions.
const (
	ActionRelay      = "relay"
	ActionSetMode    = "display.set"
	ActionJoined     = "membership.joined"
	ActionLeft       = "membership.left"
	ActionReplay     = "deeplink.replay"
	ActionReplayMiss = "deeplink.miss"
)
