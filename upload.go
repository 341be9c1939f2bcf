// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/wpachat/zalogo/types"
)

// Hard protocol limits for attachment sends. The server enforces all three;
// the client checks them before opening any upload session.
const (
	ChunkSize       = 512 * 1024
	MaxFileSize     = 1024 * 1024 * 1024
	MaxFilesPerSend = 50
)

// uploadedFile is the server-side metadata captured from the final chunk of an
// upload session, needed for the second call that attaches the file to the
// conversation.
type uploadedFile struct {
	class    types.FileClass
	name     string
	size     int
	checksum string

	// image fields
	photoID json.Number
	width   int
	height  int
	hdURL   string
	hdSize  json.Number

	// generic file fields
	fileID  json.Number
	fileURL string
}

// uploadChunkResponse is the decrypted body of one chunk POST. Finished flips
// to 1 on the last chunk, at which point the inner data carries the metadata.
type uploadChunkResponse struct {
	Finished int `json:"finished"`
	Data     struct {
		PhotoID json.Number `json:"photo_id"`
		Width   int         `json:"width"`
		Height  int         `json:"height"`
		HDURL   string      `json:"hd_url"`
		HDSize  json.Number `json:"hd_size"`
		FileID  json.Number `json:"file_id"`
		FileURL string      `json:"file_url"`
	} `json:"data"`
}

// sendAttachments uploads every file in 512 KiB chunks and then attaches them
// to the target conversation. Multi-file sends share a layout ID so the
// recipient sees one gallery. Returns the platform message ID of the last
// attach call.
func (cli *Client) sendAttachments(ctx context.Context, req *types.SendRequest) (string, error) {
	uploaded := make([]*uploadedFile, 0, len(req.Files))
	for i := range req.Files {
		file := &req.Files[i]
		if len(file.Data) == 0 {
			continue
		}
		meta, err := cli.uploadFile(ctx, req, file)
		if err != nil {
			return "", fmt.Errorf("failed to upload %s: %w", file.Name, err)
		}
		uploaded = append(uploaded, meta)
	}
	if len(uploaded) == 0 {
		return "", ErrEmptySend
	}

	groupLayoutID := strconv.FormatInt(time.Now().UnixMilli(), 10)
	var messageID string
	for i, meta := range uploaded {
		payload := cli.buildAttachPayload(req, meta, len(uploaded), groupLayoutID, len(uploaded)-1-i)
		attachURL := uploadBaseURL(req.IsGroup) + attachPath(meta.class)
		resp, err := cli.sendSignedRequest(ctx, attachURL, "message", payload, map[string]string{"nretry": "0"})
		if err != nil {
			return "", fmt.Errorf("failed to attach %s: %w", meta.name, err)
		}
		messageID = extractMessageID(resp)
	}
	return messageID, nil
}

// uploadFile streams one file through the chunked upload protocol and returns
// the metadata from the finishing chunk.
func (cli *Client) uploadFile(ctx context.Context, req *types.SendRequest, file *types.FileAttachment) (*uploadedFile, error) {
	class := file.Class()
	totalSize := len(file.Data)
	totalChunks := (totalSize + ChunkSize - 1) / ChunkSize
	clientID := time.Now().UnixMilli()

	uploadType := "2"
	if req.IsGroup {
		uploadType = "11"
	}

	var meta *uploadedFile
	for chunkIndex := 0; chunkIndex < totalChunks; chunkIndex++ {
		start := chunkIndex * ChunkSize
		end := start + ChunkSize
		if end > totalSize {
			end = totalSize
		}

		payload := map[string]any{
			"total_chunk": totalChunks,
			"file_name":   file.Name,
			"client_id":   clientID,
			"total_size":  totalSize,
			"imei":        cli.Store.DeviceID,
			"chunk_id":    chunkIndex + 1,
			"is_e2ee":     0,
			"jxl":         0,
		}
		if class == types.FileClassImage {
			payload["jxl"] = 1
		}
		applyTarget(payload, req.TargetID, req.IsGroup)

		fullURL, err := cli.buildSignedURL(uploadBaseURL(req.IsGroup)+uploadPath(class), "message", payload, map[string]string{"type": uploadType})
		if err != nil {
			return nil, err
		}
		body, contentType, err := chunkBody(file.Name, file.Data[start:end])
		if err != nil {
			return nil, err
		}
		raw, err := cli.postSigned(ctx, fullURL, body, contentType)
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", chunkIndex+1, totalChunks, err)
		}

		var chunkResp uploadChunkResponse
		if err = json.Unmarshal(raw, &chunkResp); err != nil {
			return nil, fmt.Errorf("chunk %d/%d: bad response: %w", chunkIndex+1, totalChunks, err)
		}
		if chunkResp.Finished == 1 {
			meta = &uploadedFile{
				class:   class,
				name:    file.Name,
				size:    totalSize,
				photoID: chunkResp.Data.PhotoID,
				width:   chunkResp.Data.Width,
				height:  chunkResp.Data.Height,
				hdURL:   chunkResp.Data.HDURL,
				hdSize:  chunkResp.Data.HDSize,
				fileID:  chunkResp.Data.FileID,
				fileURL: chunkResp.Data.FileURL,
			}
			if class != types.FileClassImage {
				sum := md5.Sum(file.Data)
				meta.checksum = hex.EncodeToString(sum[:])
			}
		}
	}
	if meta == nil {
		return nil, fmt.Errorf("server never confirmed upload of %s", file.Name)
	}
	cli.sendLog.Debugf("Uploaded %s (%d bytes, %d chunks)", file.Name, totalSize, totalChunks)
	return meta, nil
}

// buildAttachPayload constructs the second-stage payload referencing the
// uploaded file's server-side metadata.
func (cli *Client) buildAttachPayload(req *types.SendRequest, meta *uploadedFile, totalFiles int, groupLayoutID string, idInGroup int) map[string]any {
	multiFile := totalFiles > 1
	var payload map[string]any
	if meta.class == types.FileClassImage {
		payload = map[string]any{
			"photo_id":  meta.photoID.String(),
			"client_id": time.Now().UnixMilli(),
			"width":     meta.width,
			"height":    meta.height,
			"raw_url":   meta.hdURL,
			"thumb_url": meta.hdURL,
			"hd_url":    meta.hdURL,
			"hd_size":   meta.hdSize.String(),
			"zsource":   -1,
			"jcp":       `{"convertible":"jxl"}`,
			"ttl":       0,
		}
		// Galleries carry the shared caption on the text layer, not per photo.
		if !multiFile {
			payload["desc"] = req.Text
		}
		if req.IsGroup {
			payload["ori_url"] = meta.hdURL
		} else {
			payload["normal_url"] = meta.hdURL
		}
		if multiFile {
			payload["group_layout_id"] = groupLayoutID
			payload["is_group_layout"] = 1
			payload["id_in_group"] = idInGroup
			payload["total_item_in_group"] = totalFiles
		}
		if req.MentionID == "" {
			payload["imei"] = cli.Store.DeviceID
		}
		if mention := buildMentionInfo(req.MentionID); mention != "" {
			payload["mention_info"] = mention
		}
	} else {
		payload = map[string]any{
			"file_id":      meta.fileID.String(),
			"checksum":     meta.checksum,
			"checksum_sha": "",
			"extension":    strings.TrimPrefix(strings.ToLower(filepath.Ext(meta.name)), "."),
			"total_size":   meta.size,
			"file_name":    meta.name,
			"client_id":    time.Now().UnixMilli(),
			"f_type":       1,
			"file_count":   0,
			"fdata":        "{}",
			"file_url":     meta.fileURL,
			"zsource":      -1,
			"ttl":          0,
			"imei":         cli.Store.DeviceID,
		}
	}
	applyTarget(payload, req.TargetID, req.IsGroup)
	return payload
}

func uploadPath(class types.FileClass) string {
	if class == types.FileClassImage {
		return uploadPhotoPath
	}
	return uploadFilePath
}

func attachPath(class types.FileClass) string {
	if class == types.FileClassImage {
		return sendPhotoPath
	}
	return sendAsyncFilePath
}

// chunkBody wraps one chunk in the multipart form the upload endpoint expects.
func chunkBody(fileName string, chunk []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="chunk_content"; filename="%s"`, fileName))
	header.Set("Content-Type", "application/octet-stream")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(chunk); err != nil {
		return nil, "", err
	}
	if err = writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
