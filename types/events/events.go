// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package events contains all the events that Client.AddEventHandler can receive.
package events

import (
	"time"
)

// Connected is emitted when the websocket for an account opens successfully.
type Connected struct {
	AccountID string
}

// Disconnected is emitted when the websocket is closed by the server or the
// network. The client will auto-reconnect afterwards unless disabled.
type Disconnected struct {
	AccountID string
}

// ReconnectScheduled is emitted when an abnormal disconnect causes the client
// to schedule a new connection attempt.
type ReconnectScheduled struct {
	AccountID string
	Delay     time.Duration
	Attempts  int
}

// AuthExpired is emitted when the server signals that the session cookies are
// no longer valid. The account's status is flipped to auth_error and no
// reconnect is attempted.
type AuthExpired struct {
	AccountID string
	Reason    string
}

// Message is a decrypted inbound chat message, either direct or in a group.
type Message struct {
	AccountID      string
	ConversationID string
	SenderID       string
	SenderName     string
	MessageID      string
	Content        string
	MessageType    string
	IsGroup        bool
	// IsSelf is true when the message was sent from another device of the
	// logged-in account (uid_from "0" on the wire).
	IsSelf    bool
	Timestamp time.Time
}

// Typing is an inbound typing indicator.
type Typing struct {
	AccountID string
	// GroupID is empty for direct chats.
	GroupID   string
	UserID    string
	Timestamp time.Time
}

// FriendActionType is the kind of friend-relationship change in a FriendAction event.
type FriendActionType string

const (
	FriendActionRequest FriendActionType = "request"
	FriendActionAccept  FriendActionType = "accept"
	FriendActionRemove  FriendActionType = "remove"
	FriendActionUndo    FriendActionType = "undo"
)

// FriendAction is an inbound friend-relationship event (request sent/accepted/
// removed/withdrawn).
type FriendAction struct {
	AccountID      string
	Action         FriendActionType
	FromUserID     string
	ToUserID       string
	Message        string
	ConversationID string
	Timestamp      time.Time
}

// FileReady signals that a previously uploaded file finished server-side
// processing and can be attached to a message.
type FileReady struct {
	AccountID string
	FileID    string
	Timestamp time.Time
}
