// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/wpachat/zalogo/crypto"
	"github.com/wpachat/zalogo/types/events"
)

type inboundMessage struct {
	UIDFrom     string          `json:"uid_from"`
	IDTo        string          `json:"id_to"`
	Content     json.RawMessage `json:"content"`
	MsgType     string          `json:"msg_type"`
	DisplayName string          `json:"dName"`
	CliMsgID    json.Number     `json:"cli_msg_id"`
	Timestamp   json.Number     `json:"ts"`
}

type inboundAction struct {
	ActType string `json:"act_type"`
	Data    string `json:"data"`
}

type inboundControl struct {
	Content struct {
		ActType string          `json:"act_type"`
		Act     string          `json:"act"`
		FileID  json.Number     `json:"file_id"`
		Data    json.RawMessage `json:"data"`
	} `json:"content"`
}

type friendControlData struct {
	Value   string `json:"value"`
	FromUID string `json:"from_uid"`
	ToUID   string `json:"to_uid"`
	Message string `json:"message"`
}

// inboundPayload is the decrypted body of a websocket frame.
type inboundPayload struct {
	Data struct {
		Messages  []inboundMessage `json:"messages"`
		GroupMsgs []inboundMessage `json:"group_msgs"`
		Actions   []inboundAction  `json:"actions"`
		Controls  []inboundControl `json:"controls"`
	} `json:"data"`
}

func (cli *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			cli.onDisconnect(conn, err)
			return
		}
		cli.handleFrame(raw)
	}
}

// handleFrame decrypts one websocket frame and dispatches the events it carries.
// Events are dispatched synchronously from the read loop so they reach the
// handlers in socket order.
func (cli *Client) handleFrame(raw []byte) {
	if len(raw) == 0 {
		return
	}
	env, err := crypto.ParseFrameEnvelope(raw)
	if err != nil {
		cli.recvLog.Warnf("Failed to parse frame envelope: %v", err)
		return
	}
	// A frame without a key, or one mentioning the session cookie name, means
	// the server considers the session gone. Decrypting anything else with a
	// stale key would only fail, so drop the socket and let reconnect pick up
	// the credential's current cookies.
	if env.Key == "" || bytes.Contains(raw, []byte("zpw_sek")) {
		if cli.sessionInvalidations.Add(1) >= maxSessionInvalidations {
			cli.recvLog.Errorf("Server invalidated the session %d times in a row, treating the credential as expired", maxSessionInvalidations)
			cli.markAuthError("session repeatedly invalidated by the server")
			cli.Disconnect()
			return
		}
		cli.recvLog.Warnf("Frame signals invalid session, resetting connection")
		cli.resetConnection()
		return
	}
	plaintext, err := crypto.DecodeFrame(env.Key, env)
	if err != nil {
		cli.recvLog.Warnf("Failed to decrypt generation %d frame: %v", env.Encrypt, err)
		return
	}
	cli.sessionInvalidations.Store(0)
	var payload inboundPayload
	if err = json.Unmarshal(plaintext, &payload); err != nil {
		cli.recvLog.Warnf("Failed to parse decrypted frame: %v", err)
		return
	}
	cli.classifyPayload(&payload)
}

func (cli *Client) classifyPayload(payload *inboundPayload) {
	switch {
	case hasFriendActionMessages(payload.Data.Messages):
		if len(payload.Data.Controls) > 0 {
			cli.handleFriendControl(payload.Data.Controls[0])
		} else {
			cli.recvLog.Debugf("Dropping friend action list frame without control payload")
		}
	case hasChatMessages(payload.Data.Messages) || hasChatMessages(payload.Data.GroupMsgs):
		cli.handleChatMessages(payload)
	case len(payload.Data.Actions) > 0:
		cli.handleTypingAction(payload.Data.Actions[0])
	case isFileDoneControl(payload.Data.Controls):
		cli.handleFileDone(payload.Data.Controls[0])
	case isFriendControl(payload.Data.Controls):
		cli.handleFriendControl(payload.Data.Controls[0])
	default:
		cli.recvLog.Debugf("Ignoring frame with no recognized payload shape")
	}
}

func hasChatMessages(msgs []inboundMessage) bool {
	for _, msg := range msgs {
		if msg.MsgType != "" || len(msg.Content) > 0 {
			return true
		}
	}
	return false
}

// hasFriendActionMessages reports whether any message carries the server's
// friend notification marker. Those frames reuse the message shape but are
// relationship updates, not chat.
func hasFriendActionMessages(msgs []inboundMessage) bool {
	for _, msg := range msgs {
		if bytes.Contains(msg.Content, []byte("msginfo.actionlist")) {
			return true
		}
	}
	return false
}

func isFileDoneControl(controls []inboundControl) bool {
	return len(controls) > 0 && controls[0].Content.ActType == "file_done"
}

func isFriendControl(controls []inboundControl) bool {
	for _, ctrl := range controls {
		if ctrl.Content.ActType == "fr" {
			return true
		}
	}
	return false
}

func (cli *Client) handleChatMessages(payload *inboundPayload) {
	msgs := payload.Data.Messages
	isGroup := false
	if len(msgs) == 0 {
		msgs = payload.Data.GroupMsgs
		isGroup = true
	}
	for _, msg := range msgs {
		isSelf := msg.UIDFrom == "0"
		conversationID := msg.UIDFrom
		senderID := msg.UIDFrom
		if isSelf {
			conversationID = msg.IDTo
			senderID = cli.Store.UserID
		}
		evt := &events.Message{
			AccountID:      cli.Store.UserID,
			ConversationID: conversationID,
			SenderID:       senderID,
			SenderName:     msg.DisplayName,
			MessageID:      msg.CliMsgID.String(),
			Content:        parseMessageContent(&msg),
			MessageType:    strings.ToLower(msg.MsgType),
			IsGroup:        isGroup,
			IsSelf:         isSelf,
			Timestamp:      timestampFromMillis(msg.Timestamp),
		}
		if evt.MessageID == "" {
			evt.MessageID = nextClientID()
		}
		cli.recvLog.Debugf("Received %s message %s in %s", evt.MessageType, evt.MessageID, evt.ConversationID)
		cli.dispatchEvent(evt)
	}
}

// parseMessageContent flattens the content field, which is a plain string for
// text messages and an object for media. Group photo galleries are joined into
// a comma-separated URL list.
func parseMessageContent(msg *inboundMessage) string {
	var asString string
	if json.Unmarshal(msg.Content, &asString) == nil {
		return asString
	}
	if msg.MsgType == "chat.group_photo" {
		var photo struct {
			Images []string `json:"images"`
		}
		if json.Unmarshal(msg.Content, &photo) == nil && len(photo.Images) > 0 {
			return strings.Join(photo.Images, ",")
		}
	}
	return string(msg.Content)
}

var (
	typingGIDRegex = regexp.MustCompile(`"gid":"([^"]*)"`)
	typingUIDRegex = regexp.MustCompile(`"uid":"([^"]*)"`)
)

func (cli *Client) handleTypingAction(action inboundAction) {
	gid, uid := extractTypingIDs(action.Data)
	if uid == "0" {
		uid = cli.Store.UserID
	}
	cli.dispatchEvent(&events.Typing{
		AccountID: cli.Store.UserID,
		GroupID:   gid,
		UserID:    uid,
		Timestamp: time.Now(),
	})
}

// extractTypingIDs pulls gid/uid out of the action's data field. The field is
// sometimes a JSON object and sometimes a bare `"k":"v"` fragment without the
// surrounding braces.
func extractTypingIDs(data string) (gid, uid string) {
	if data == "" {
		return "", ""
	}
	candidate := data
	if !strings.HasPrefix(candidate, "{") {
		candidate = "{" + candidate + "}"
	}
	var parsed struct {
		GID string `json:"gid"`
		UID string `json:"uid"`
	}
	if json.Unmarshal([]byte(candidate), &parsed) == nil {
		return parsed.GID, parsed.UID
	}
	if match := typingGIDRegex.FindStringSubmatch(data); match != nil {
		gid = match[1]
	}
	if match := typingUIDRegex.FindStringSubmatch(data); match != nil {
		uid = match[1]
	}
	return gid, uid
}

func (cli *Client) handleFileDone(ctrl inboundControl) {
	evt := &events.FileReady{
		AccountID: cli.Store.UserID,
		FileID:    ctrl.Content.FileID.String(),
		Timestamp: time.Now(),
	}
	cli.recvLog.Debugf("File %s finished server-side processing", evt.FileID)
	cli.dispatchEvent(evt)
}

var friendActMap = map[string]events.FriendActionType{
	"req":      events.FriendActionRequest,
	"req_v2":   events.FriendActionRequest,
	"add":      events.FriendActionAccept,
	"remove":   events.FriendActionRemove,
	"undo_req": events.FriendActionUndo,
}

func (cli *Client) handleFriendControl(ctrl inboundControl) {
	action, ok := friendActMap[ctrl.Content.Act]
	if !ok {
		cli.recvLog.Debugf("Ignoring unknown friend act %q", ctrl.Content.Act)
		return
	}
	var data friendControlData
	if len(ctrl.Content.Data) > 0 {
		if err := json.Unmarshal(ctrl.Content.Data, &data); err != nil {
			// The data field is double-encoded on some server versions.
			var inner string
			if json.Unmarshal(ctrl.Content.Data, &inner) == nil {
				_ = json.Unmarshal([]byte(inner), &data)
			}
		}
	}
	conversationID := data.Value
	if conversationID == "" {
		conversationID = cli.Store.UserID
	}
	cli.dispatchEvent(&events.FriendAction{
		AccountID:      cli.Store.UserID,
		Action:         action,
		FromUserID:     data.FromUID,
		ToUserID:       data.ToUID,
		Message:        data.Message,
		ConversationID: conversationID,
		Timestamp:      time.Now(),
	})
}

func timestampFromMillis(num json.Number) time.Time {
	ms, err := num.Int64()
	if err != nil || ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}
