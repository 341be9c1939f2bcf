// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package types

import (
	"path/filepath"
	"strings"
)

// FileClass is the coarse media category the upload endpoints distinguish.
type FileClass string

const (
	FileClassImage FileClass = "image"
	FileClassVideo FileClass = "video"
	FileClassOther FileClass = "file"
)

// ClassifyFile determines the media category from a file name's extension,
// matching what the official web client sends.
func ClassifyFile(name string) FileClass {
	switch strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".") {
	case "jpg", "jpeg", "png", "gif":
		return FileClassImage
	case "mp4", "avi", "mov":
		return FileClassVideo
	default:
		return FileClassOther
	}
}

// FileAttachment is one file to send as part of a SendRequest.
type FileAttachment struct {
	Name string
	Data []byte
}

// Class returns the media category of the attachment.
func (fa *FileAttachment) Class() FileClass {
	return ClassifyFile(fa.Name)
}

// SendRequest describes one outbound send call: a text body and/or attachments
// for a single target conversation.
type SendRequest struct {
	// TargetID is the user ID or group ID the message is sent to.
	TargetID string
	// IsGroup selects the group API endpoints and payload shape.
	IsGroup bool
	Text    string
	// MentionID, if set, adds an @mention block and routes the text through
	// the group mention endpoint.
	MentionID string
	Files     []FileAttachment
}

// SendResponse is the structured result of a send call.
type SendResponse struct {
	Success   bool
	MessageID string
	// Error holds the typed failure when Success is false.
	Error error
}
