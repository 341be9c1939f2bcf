// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"context"
	"encoding/json"
)

// FriendStatus is the decrypted response of CheckFriendStatus. IsFriend covers
// the mutual-friends case; PendingRequest means an outbound request is waiting
// for the other side.
type FriendStatus struct {
	IsFriend       bool `json:"is_friend"`
	PendingRequest bool `json:"is_requested"`
}

// CheckFriendStatus reports the friendship state between the logged-in account
// and another user.
func (cli *Client) CheckFriendStatus(ctx context.Context, userID string) (*FriendStatus, error) {
	payload := map[string]any{
		"fid":  userID,
		"imei": cli.Store.DeviceID,
	}
	resp, err := cli.sendSignedRequest(ctx, friendRequestStatusURL, "friend", payload, nil)
	if err != nil {
		return nil, err
	}
	var status FriendStatus
	if err = json.Unmarshal(resp, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SendFriendRequest asks another user to become a contact. The message is
// shown on the recipient's request screen.
func (cli *Client) SendFriendRequest(ctx context.Context, userID, message string) error {
	payload := map[string]any{
		"toid":     userID,
		"msg":      message,
		"reqsrc":   cli.Store.APIType,
		"imei":     cli.Store.DeviceID,
		"language": cli.Store.Language,
	}
	_, err := cli.sendSignedRequest(ctx, friendSendRequestURL, "friend", payload, nil)
	return err
}

// AcceptFriendRequest accepts a pending inbound friend request.
func (cli *Client) AcceptFriendRequest(ctx context.Context, userID string) error {
	payload := map[string]any{
		"fid":      userID,
		"language": cli.Store.Language,
	}
	_, err := cli.sendSignedRequest(ctx, friendAcceptURL, "friend", payload, nil)
	return err
}

// RemoveFriend dissolves an existing friendship.
func (cli *Client) RemoveFriend(ctx context.Context, userID string) error {
	payload := map[string]any{
		"fid":  userID,
		"imei": cli.Store.DeviceID,
	}
	_, err := cli.sendSignedRequest(ctx, friendRemoveURL, "friend", payload, nil)
	return err
}

// UndoFriendRequest withdraws a friend request before the other side acts on it.
func (cli *Client) UndoFriendRequest(ctx context.Context, userID string) error {
	payload := map[string]any{
		"fid":  userID,
		"imei": cli.Store.DeviceID,
	}
	_, err := cli.sendSignedRequest(ctx, friendUndoURL, "friend", payload, nil)
	return err
}
