// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/wpachat/zalogo/store"
	"github.com/wpachat/zalogo/types"
	"github.com/wpachat/zalogo/types/events"
)

// wsTestServer accepts websocket connections, writes the given frames to each
// one and then drains reads until the peer goes away.
func wsTestServer(t *testing.T, frames ...[]byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var accepts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The client presents the web client's Origin header, which never
		// matches the test server's host.
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		accepts.Add(1)
		ctx := r.Context()
		for _, frame := range frames {
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}))
	return server, &accepts
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientWebsocketLifecycle(t *testing.T) {
	frame := gen0Frame(t, map[string]any{
		"data": map[string]any{
			"messages": []map[string]any{{
				"uid_from": "111222333",
				"content":  "over the socket",
				"msg_type": "chat.text",
			}},
		},
	})
	server, accepts := wsTestServer(t, frame)
	defer server.Close()

	cli := NewClient(testAccount(), nil)
	cli.WebsocketURL = wsURL(server)
	cli.EnableAutoReconnect = false
	ch := collectEvents(cli)

	if err := cli.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := cli.Connect(); err != ErrAlreadyConnected {
		t.Errorf("second connect: got %v, want ErrAlreadyConnected", err)
	}

	connected := waitEvent[*events.Connected](t, ch)
	if connected.AccountID != "278914040" {
		t.Errorf("connected account: %s", connected.AccountID)
	}
	if !cli.IsConnected() {
		t.Error("IsConnected false after connect")
	}

	msg := waitEvent[*events.Message](t, ch)
	if msg.Content != "over the socket" {
		t.Errorf("message content: %q", msg.Content)
	}

	cli.Disconnect()
	waitEvent[*events.Disconnected](t, ch)
	if cli.IsConnected() {
		t.Error("IsConnected true after disconnect")
	}
	if got := accepts.Load(); got != 1 {
		t.Errorf("accepted connections: %d", got)
	}
}

func TestClientServerInitiatedDisconnect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		conn.Close(websocket.StatusNormalClosure, "going away")
	}))
	defer server.Close()

	cli := NewClient(testAccount(), nil)
	cli.WebsocketURL = wsURL(server)
	cli.EnableAutoReconnect = false
	ch := collectEvents(cli)

	if err := cli.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent[*events.Disconnected](t, ch)
}

func TestClientAuthRejectedOnReconnect(t *testing.T) {
	var dials atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials.Add(1) > 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		conn.Close(websocket.StatusInternalError, "restarting")
	}))
	defer server.Close()

	cli := NewClient(testAccount(), nil)
	cli.WebsocketURL = wsURL(server)
	ch := collectEvents(cli)

	if err := cli.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// The server drops the socket, then rejects the reconnect dial outright.
	// That must surface as an expired credential, not a silent give-up.
	expired := waitEvent[*events.AuthExpired](t, ch)
	if expired.AccountID != "278914040" {
		t.Errorf("account: %s", expired.AccountID)
	}
	if cli.Store.Status != store.StatusAuthError {
		t.Errorf("status: got %s, want auth_error", cli.Store.Status)
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("dials: got %d, want 2", got)
	}

	// A credential in auth_error refuses to connect until re-login.
	err := cli.Connect()
	var authErr *AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Errorf("connect after expiry: got %v, want AuthExpiredError", err)
	}
}

func TestManagerStartStop(t *testing.T) {
	server, accepts := wsTestServer(t)
	defer server.Close()

	mgr := NewManager(nil, nil)
	mgr.WebsocketURL = wsURL(server)
	acc := testAccount()
	ctx := context.Background()

	if err := mgr.StartListening(ctx, acc, func(any) {}); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	if !mgr.IsListening(acc.UserID) {
		t.Error("IsListening false after start")
	}
	if mgr.Client(acc.UserID) == nil {
		t.Error("no client registered")
	}
	// A second start for the same account is a no-op.
	if err := mgr.StartListening(ctx, acc, func(any) {}); err != nil {
		t.Fatalf("repeated StartListening: %v", err)
	}
	if got := accepts.Load(); got != 1 {
		t.Errorf("accepted connections: %d", got)
	}

	mgr.StopListening(acc.UserID)
	if mgr.IsListening(acc.UserID) {
		t.Error("IsListening true after stop")
	}
	if mgr.Client(acc.UserID) != nil {
		t.Error("client still registered after stop")
	}
	// Stopping again must not panic.
	mgr.StopListening(acc.UserID)
}

func TestManagerConnectionLimit(t *testing.T) {
	server, _ := wsTestServer(t)
	defer server.Close()

	mgr := NewManager(nil, nil)
	mgr.WebsocketURL = wsURL(server)
	mgr.MaxConnections = 1
	ctx := context.Background()

	first := testAccount()
	if err := mgr.StartListening(ctx, first, func(any) {}); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	defer mgr.StopListening(first.UserID)

	second := testAccount()
	second.UserID = "999000111"
	if err := mgr.StartListening(ctx, second, func(any) {}); err != ErrTooManyConnections {
		t.Errorf("got %v, want ErrTooManyConnections", err)
	}

	// Freeing the slot makes room again.
	mgr.StopListening(first.UserID)
	if err := mgr.StartListening(ctx, second, func(any) {}); err != nil {
		t.Errorf("StartListening after free: %v", err)
	}
	mgr.StopListening(second.UserID)
}

func TestManagerConnectFailureUnregisters(t *testing.T) {
	mgr := NewManager(nil, nil)
	mgr.WebsocketURL = "ws://127.0.0.1:1"
	acc := testAccount()

	if err := mgr.StartListening(context.Background(), acc, func(any) {}); err == nil {
		t.Fatal("StartListening succeeded against a dead endpoint")
	}
	if mgr.IsListening(acc.UserID) {
		t.Error("failed connection left registered")
	}
}

func TestManagerIdleTeardown(t *testing.T) {
	server, _ := wsTestServer(t)
	defer server.Close()

	mgr := NewManager(nil, nil)
	mgr.WebsocketURL = wsURL(server)
	mgr.IdleGracePeriod = 50 * time.Millisecond
	acc := testAccount()
	ctx := context.Background()

	if err := mgr.StartListening(ctx, acc, func(any) {}); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	mgr.AttachConsumer(acc.UserID)
	mgr.DetachConsumer(acc.UserID)

	deadline := time.Now().Add(2 * time.Second)
	for mgr.IsListening(acc.UserID) {
		if time.Now().After(deadline) {
			t.Fatal("idle connection not torn down")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Reattaching within the grace period cancels the teardown.
	if err := mgr.StartListening(ctx, acc, func(any) {}); err != nil {
		t.Fatalf("StartListening: %v", err)
	}
	mgr.AttachConsumer(acc.UserID)
	mgr.DetachConsumer(acc.UserID)
	mgr.AttachConsumer(acc.UserID)
	time.Sleep(150 * time.Millisecond)
	if !mgr.IsListening(acc.UserID) {
		t.Error("connection torn down despite an attached consumer")
	}
	mgr.StopListening(acc.UserID)
}

func TestManagerSendWithoutConnection(t *testing.T) {
	mgr := NewManager(nil, nil)
	resp := mgr.Send(context.Background(), "nobody", &types.SendRequest{TargetID: "1", Text: "hi"})
	if resp.Error != ErrNotConnected {
		t.Errorf("got %v, want ErrNotConnected", resp.Error)
	}
}
