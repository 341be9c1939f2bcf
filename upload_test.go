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
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/wpachat/zalogo/store"
	"github.com/wpachat/zalogo/types"
)

// uploadCapture records one request to the mock upload server.
type uploadCapture struct {
	path      string
	uploadTyp string
	params    string
	chunk     []byte
}

// uploadServer replies to chunk POSTs with finished=0 until the expected
// number of chunks per file arrives, then with the finished metadata, and
// answers attach POSTs with a message ID.
func uploadServer(t *testing.T, acc *store.Account, chunksPerFinish int, finishedData string) (*httptest.Server, *[]uploadCapture) {
	t.Helper()
	pending := signedReply(t, acc.SecretKey, `{"finished":0,"data":{}}`)
	finished := signedReply(t, acc.SecretKey, `{"finished":1,"data":`+finishedData+`}`)
	attached := signedReply(t, acc.SecretKey, `{"msgId":424242}`)

	var lock sync.Mutex
	var captures []uploadCapture
	chunkCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := uploadCapture{
			path:      r.URL.Path,
			uploadTyp: r.URL.Query().Get("type"),
			params:    r.URL.Query().Get("params"),
		}
		if file, _, err := r.FormFile("chunk_content"); err == nil {
			rec.chunk, _ = io.ReadAll(file)
			file.Close()
		}
		lock.Lock()
		captures = append(captures, rec)
		isUpload := len(rec.chunk) > 0
		if isUpload {
			chunkCount++
		}
		done := chunkCount%chunksPerFinish == 0
		lock.Unlock()

		switch {
		case !isUpload:
			w.Write(attached)
		case done:
			w.Write(finished)
		default:
			w.Write(pending)
		}
	}))
	return server, &captures
}

func TestSendSingleImage(t *testing.T) {
	acc := testAccount()
	// 2 MiB image, split into four 512 KiB chunks plus the attach call.
	data := bytes.Repeat([]byte{0xAB}, 4*ChunkSize)
	server, captures := uploadServer(t, acc, 4, `{"photo_id":91,"width":640,"height":480,"hd_url":"https://f/full.jpg","hd_size":"12345"}`)
	defer server.Close()

	cli := NewClient(acc, nil)
	redirectAPI(cli, server.URL)

	resp := cli.Send(context.Background(), &types.SendRequest{
		TargetID: "111222333",
		Text:     "holiday photo",
		Files:    []types.FileAttachment{{Name: "beach.jpg", Data: data}},
	})
	if resp.Error != nil {
		t.Fatalf("send failed: %v", resp.Error)
	}
	if resp.MessageID != "424242" {
		t.Errorf("message id: %s", resp.MessageID)
	}

	got := *captures
	if len(got) != 5 {
		t.Fatalf("request count: got %d, want 4 chunks + 1 attach", len(got))
	}

	var reassembled []byte
	for i, rec := range got[:4] {
		if rec.path != "/api/message/photo_original/upload" {
			t.Errorf("chunk %d path: %s", i, rec.path)
		}
		if rec.uploadTyp != "2" {
			t.Errorf("chunk %d type: %s", i, rec.uploadTyp)
		}
		payload := decryptParams(t, acc.SecretKey, rec.params)
		if payload["chunk_id"] != float64(i+1) {
			t.Errorf("chunk %d id: %v", i, payload["chunk_id"])
		}
		if payload["total_chunk"] != float64(4) || payload["total_size"] != float64(len(data)) {
			t.Errorf("chunk %d sizing: %v", i, payload)
		}
		if payload["file_name"] != "beach.jpg" || payload["toid"] != "111222333" {
			t.Errorf("chunk %d payload: %v", i, payload)
		}
		if payload["jxl"] != float64(1) || payload["is_e2ee"] != float64(0) {
			t.Errorf("chunk %d flags: %v", i, payload)
		}
		reassembled = append(reassembled, rec.chunk...)
	}
	if !bytes.Equal(reassembled, data) {
		t.Errorf("reassembled upload differs from original: %d vs %d bytes", len(reassembled), len(data))
	}
	if len(got[0].chunk) != ChunkSize || len(got[3].chunk) != ChunkSize {
		t.Errorf("chunk sizes: %d, %d, %d, %d", len(got[0].chunk), len(got[1].chunk), len(got[2].chunk), len(got[3].chunk))
	}

	attach := got[4]
	if attach.path != "/api/message/photo_original/send" {
		t.Errorf("attach path: %s", attach.path)
	}
	payload := decryptParams(t, acc.SecretKey, attach.params)
	if payload["photo_id"] != "91" {
		t.Errorf("photo_id: %v", payload["photo_id"])
	}
	if payload["desc"] != "holiday photo" {
		t.Errorf("desc: %v", payload["desc"])
	}
	if payload["normal_url"] != "https://f/full.jpg" {
		t.Errorf("normal_url: %v", payload["normal_url"])
	}
	if _, hasOri := payload["ori_url"]; hasOri {
		t.Error("ori_url present on a direct send")
	}
	if _, hasLayout := payload["group_layout_id"]; hasLayout {
		t.Error("gallery fields present on a single-file send")
	}
	if payload["width"] != float64(640) || payload["height"] != float64(480) {
		t.Errorf("dimensions: %v", payload)
	}
}

func TestSendImageTrailingChunk(t *testing.T) {
	acc := testAccount()
	data := bytes.Repeat([]byte{0xCD}, ChunkSize+100)
	server, captures := uploadServer(t, acc, 2, `{"photo_id":5,"width":1,"height":1,"hd_url":"https://f/t.jpg","hd_size":"1"}`)
	defer server.Close()

	cli := NewClient(acc, nil)
	redirectAPI(cli, server.URL)

	resp := cli.Send(context.Background(), &types.SendRequest{
		TargetID: "111222333",
		Files:    []types.FileAttachment{{Name: "tail.jpg", Data: data}},
	})
	if resp.Error != nil {
		t.Fatalf("send failed: %v", resp.Error)
	}
	got := *captures
	if len(got) != 3 {
		t.Fatalf("request count: got %d, want 2 chunks + 1 attach", len(got))
	}
	if len(got[0].chunk) != ChunkSize || len(got[1].chunk) != 100 {
		t.Errorf("chunk sizes: %d, %d", len(got[0].chunk), len(got[1].chunk))
	}
}

func TestSendGroupGallery(t *testing.T) {
	acc := testAccount()
	server, captures := uploadServer(t, acc, 1, `{"photo_id":7,"width":10,"height":10,"hd_url":"https://f/p.jpg","hd_size":"9"}`)
	defer server.Close()

	cli := NewClient(acc, nil)
	redirectAPI(cli, server.URL)

	resp := cli.Send(context.Background(), &types.SendRequest{
		TargetID: "g.555",
		IsGroup:  true,
		Files: []types.FileAttachment{
			{Name: "one.png", Data: []byte("first")},
			{Name: "two.png", Data: []byte("second")},
		},
	})
	if resp.Error != nil {
		t.Fatalf("send failed: %v", resp.Error)
	}

	got := *captures
	if len(got) != 4 {
		t.Fatalf("request count: got %d, want 2 chunks + 2 attaches", len(got))
	}
	for i, rec := range got[:2] {
		if rec.path != "/api/group/photo_original/upload" {
			t.Errorf("chunk %d path: %s", i, rec.path)
		}
		if rec.uploadTyp != "11" {
			t.Errorf("chunk %d type: %s", i, rec.uploadTyp)
		}
	}

	first := decryptParams(t, acc.SecretKey, got[2].params)
	second := decryptParams(t, acc.SecretKey, got[3].params)
	if first["group_layout_id"] == "" || first["group_layout_id"] != second["group_layout_id"] {
		t.Errorf("layout ids differ: %v vs %v", first["group_layout_id"], second["group_layout_id"])
	}
	if first["id_in_group"] != float64(1) || second["id_in_group"] != float64(0) {
		t.Errorf("id_in_group not descending: %v, %v", first["id_in_group"], second["id_in_group"])
	}
	if first["total_item_in_group"] != float64(2) || first["is_group_layout"] != float64(1) {
		t.Errorf("gallery fields: %v", first)
	}
	if _, hasDesc := first["desc"]; hasDesc {
		t.Error("per-photo desc present in a gallery")
	}
	if first["ori_url"] != "https://f/p.jpg" {
		t.Errorf("ori_url: %v", first["ori_url"])
	}
	if first["grid"] != "g.555" {
		t.Errorf("grid: %v", first["grid"])
	}
}

func TestSendGenericFile(t *testing.T) {
	acc := testAccount()
	data := []byte("%PDF-1.4 test document")
	server, captures := uploadServer(t, acc, 1, `{"file_id":314,"file_url":"https://f/doc.pdf"}`)
	defer server.Close()

	cli := NewClient(acc, nil)
	redirectAPI(cli, server.URL)

	resp := cli.Send(context.Background(), &types.SendRequest{
		TargetID: "111222333",
		Files:    []types.FileAttachment{{Name: "report.pdf", Data: data}},
	})
	if resp.Error != nil {
		t.Fatalf("send failed: %v", resp.Error)
	}

	got := *captures
	if len(got) != 2 {
		t.Fatalf("request count: got %d, want 1 chunk + 1 attach", len(got))
	}
	if got[0].path != "/api/message/asyncfile/upload" {
		t.Errorf("upload path: %s", got[0].path)
	}
	chunkPayload := decryptParams(t, acc.SecretKey, got[0].params)
	if chunkPayload["jxl"] != float64(0) {
		t.Errorf("jxl for non-image: %v", chunkPayload["jxl"])
	}

	if got[1].path != "/api/message/asyncfile/msg" {
		t.Errorf("attach path: %s", got[1].path)
	}
	payload := decryptParams(t, acc.SecretKey, got[1].params)
	if payload["file_id"] != "314" {
		t.Errorf("file_id: %v", payload["file_id"])
	}
	sum := md5.Sum(data)
	if payload["checksum"] != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum: %v", payload["checksum"])
	}
	if payload["extension"] != "pdf" || payload["f_type"] != float64(1) || payload["fdata"] != "{}" {
		t.Errorf("file payload: %v", payload)
	}
	if payload["file_url"] != "https://f/doc.pdf" {
		t.Errorf("file_url: %v", payload["file_url"])
	}
	if payload["total_size"] != float64(len(data)) {
		t.Errorf("total_size: %v", payload["total_size"])
	}
}

func TestClassifyFile(t *testing.T) {
	cases := map[string]types.FileClass{
		"a.JPG":    types.FileClassImage,
		"b.png":    types.FileClassImage,
		"c.mp4":    types.FileClassVideo,
		"d.pdf":    types.FileClassOther,
		"noext":    types.FileClassOther,
		"e.tar.gz": types.FileClassOther,
	}
	for name, want := range cases {
		if got := types.ClassifyFile(name); got != want {
			t.Errorf("ClassifyFile(%q) = %s, want %s", name, got, want)
		}
	}
}
