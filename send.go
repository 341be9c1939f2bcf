// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/wpachat/zalogo/types"
)

// nextClientID returns a client-generated message ID. The server only uses the
// value for deduplication within a short window, so the millisecond clock is
// sufficient.
func nextClientID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// Send delivers one outbound request: text only, attachments only, or
// attachments with a caption. The limits on file size and count are checked
// before any network traffic happens.
func (cli *Client) Send(ctx context.Context, req *types.SendRequest) *types.SendResponse {
	if cli == nil {
		return &types.SendResponse{Error: ErrClientIsNil}
	}
	if err := validateSendRequest(req); err != nil {
		return &types.SendResponse{Error: err}
	}

	var (
		messageID string
		err       error
	)
	if len(req.Files) > 0 {
		messageID, err = cli.sendAttachments(ctx, req)
	} else {
		messageID, err = cli.SendText(ctx, req.TargetID, req.IsGroup, req.Text, req.MentionID)
	}
	if err != nil {
		cli.sendLog.Errorf("Send to %s failed: %v", req.TargetID, err)
		return &types.SendResponse{Error: err}
	}
	cli.bumpActivity(ctx)
	return &types.SendResponse{Success: true, MessageID: messageID}
}

func validateSendRequest(req *types.SendRequest) error {
	if req.TargetID == "" || (strings.TrimSpace(req.Text) == "" && len(req.Files) == 0) {
		return ErrEmptySend
	}
	if len(req.Files) > MaxFilesPerSend {
		return ErrTooManyFiles
	}
	for _, file := range req.Files {
		if len(file.Data) > MaxFileSize {
			return ErrFileTooLarge
		}
	}
	return nil
}

// SendText sends a plain text message, optionally with one @mention.
// mentionID "-1" mentions everyone in a group.
func (cli *Client) SendText(ctx context.Context, targetID string, isGroup bool, text, mentionID string) (string, error) {
	payload := map[string]any{
		"message":   strings.TrimSpace(text),
		"client_id": time.Now().UnixMilli(),
		"ttl":       0,
	}
	if mentionID == "" {
		payload["imei"] = cli.Store.DeviceID
	}
	applyTarget(payload, targetID, isGroup)
	if isGroup {
		payload["visibility"] = 0
	}
	if mention := buildMentionInfo(mentionID); mention != "" {
		payload["mention_info"] = mention
	}

	sendURL := textMessageURL(isGroup)
	if mentionID != "" {
		sendURL = sendMentionURL
	}
	resp, err := cli.sendSignedRequest(ctx, sendURL, "message", payload, map[string]string{"nretry": "0"})
	if err != nil {
		return "", err
	}
	return extractMessageID(resp), nil
}

// UndoMessage recalls a previously sent message for both sides.
func (cli *Client) UndoMessage(ctx context.Context, targetID string, isGroup bool, messageID, globalMessageID string) error {
	payload := map[string]any{
		"msgId":        messageID,
		"cliMsgIdUndo": globalMessageID,
		"clientId":     time.Now().UnixMilli(),
	}
	applyTarget(payload, targetID, isGroup)
	_, err := cli.sendSignedRequest(ctx, undoMessageURL(isGroup), "message", payload, map[string]string{"nretry": "0"})
	return err
}

// applyTarget sets the recipient field: toid for direct chats, grid for groups.
// Only one of the two may appear in the signed set.
func applyTarget(payload map[string]any, targetID string, isGroup bool) {
	if isGroup {
		payload["grid"] = targetID
	} else {
		payload["toid"] = targetID
	}
}

// buildMentionInfo renders the mention block the web client sends: a JSON
// array string, not a nested object. Type 1 marks the @all mention.
func buildMentionInfo(mentionID string) string {
	if mentionID == "" {
		return ""
	}
	mentionType := 0
	if mentionID == "-1" {
		mentionType = 1
	}
	block, _ := json.Marshal([]map[string]any{{
		"pos":  0,
		"len":  15,
		"uid":  mentionID,
		"type": mentionType,
	}})
	return string(block)
}

// extractMessageID pulls the platform message ID out of a send response. The
// field name varies between the message and group shards.
func extractMessageID(resp json.RawMessage) string {
	var parsed struct {
		MsgID    json.Number `json:"msgId"`
		MsgIDAlt json.Number `json:"msg_id"`
	}
	if json.Unmarshal(resp, &parsed) != nil {
		return ""
	}
	if parsed.MsgID.String() != "" {
		return parsed.MsgID.String()
	}
	return parsed.MsgIDAlt.String()
}
