// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

// Fixed endpoints of the Zalo web API. The hosts are sharded by concern
// (messages, groups, files, friends) but all live under chat.zalo.me.
const (
	// Origin is the web client origin sent on HTTP and websocket requests.
	Origin = "https://chat.zalo.me"

	// WebsocketURL is the real-time endpoint; zpw_ver, zpw_type and a
	// millisecond timestamp are appended as query parameters.
	WebsocketURL = "wss://ws2-msg.chat.zalo.me/"

	loginAPIOrigin    = "https://wpa.chat.zalo.me/api/login"
	getLoginInfoPath  = "/getLoginInfo"
	getServerInfoPath = "/getServerInfo"

	messageBaseURL = "https://tt-chat2-wpa.chat.zalo.me/api/message"
	groupBaseURL   = "https://tt-group-wpa.chat.zalo.me/api/group"

	sendUserMessageURL  = messageBaseURL + "/sms"
	undoUserMessageURL  = messageBaseURL + "/undo"
	sendGroupMessageURL = groupBaseURL + "/sendmsg"
	undoGroupMessageURL = groupBaseURL + "/undomsg"
	sendMentionURL      = groupBaseURL + "/mention"

	fileBaseURL        = "https://tt-files-wpa.chat.zalo.me/api"
	uploadToUserBase   = fileBaseURL + "/message/"
	uploadToGroupBase  = fileBaseURL + "/group/"
	uploadPhotoPath    = "photo_original/upload"
	uploadFilePath     = "asyncfile/upload"
	sendPhotoPath      = "photo_original/send"
	sendAsyncFilePath  = "asyncfile/msg"

	friendBaseURL          = "https://tt-friend-wpa.chat.zalo.me/api/friend"
	friendSendRequestURL   = friendBaseURL + "/sendreq"
	friendRequestStatusURL = friendBaseURL + "/reqstatus"
	friendAcceptURL        = friendBaseURL + "/accept"
	friendRemoveURL        = friendBaseURL + "/remove"
	friendUndoURL          = friendBaseURL + "/undo"
)

// QR login handshake endpoints. The origins are fields on QRLogin so tests can
// point the flow at a local server; these are the production defaults.
const (
	accountOrigin  = "https://id.zalo.me"
	userInfoOrigin = "https://jr.chat.zalo.me"

	loginPagePath        = "/account?continue=https%3A%2F%2Fchat.zalo.me%2F"
	loginInfoPath        = "/account/logininfo"
	verifyClientPath     = "/account/verify-client"
	qrGeneratePath       = "/account/authen/qr/generate"
	qrWaitingScanPath    = "/account/authen/qr/waiting-scan"
	qrWaitingConfirmPath = "/account/authen/qr/waiting-confirm"
	checkSessionPath     = "/account/checksession?continue=https%3A%2F%2Fchat.zalo.me%2Findex.html"
	userInfoPath         = "/jr/userinfo"

	// qrContinueURL is the continue parameter the login endpoints expect.
	qrContinueURL = "https://zalo.me/pc"
)

func uploadBaseURL(isGroup bool) string {
	if isGroup {
		return uploadToGroupBase
	}
	return uploadToUserBase
}

func textMessageURL(isGroup bool) string {
	if isGroup {
		return sendGroupMessageURL
	}
	return sendUserMessageURL
}

func undoMessageURL(isGroup bool) string {
	if isGroup {
		return undoGroupMessageURL
	}
	return undoUserMessageURL
}
