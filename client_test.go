// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/wpachat/zalogo/store"
	"github.com/wpachat/zalogo/types"
)

func testAccount() *store.Account {
	return &store.Account{
		DeviceID:   "test-device-id",
		UserID:     "278914040",
		SecretKey:  base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x42}, 32)),
		Cookies:    types.ParseCookieHeader("zpw_sek=abc; zpsid=def"),
		APIType:    store.DefaultAPIType,
		APIVersion: store.DefaultAPIVersion,
		Language:   store.DefaultLanguage,
		Status:     store.StatusActive,
	}
}

// collectEvents registers a handler that forwards all dispatched events to the
// returned channel.
func collectEvents(cli *Client) <-chan any {
	ch := make(chan any, 64)
	cli.AddEventHandler(func(evt any) {
		ch <- evt
	})
	return ch
}

func waitEvent[T any](t *testing.T, ch <-chan any) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-ch:
			if typed, ok := evt.(T); ok {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			panic("unreachable")
		}
	}
}

// rewriteTransport redirects every request to a test server while keeping the
// original path, so production URL constants stay exercised.
type rewriteTransport struct {
	target *url.URL
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func redirectAPI(cli *Client, serverURL string) {
	target, err := url.Parse(serverURL)
	if err != nil {
		panic(err)
	}
	cli.SetAPIHTTPClient(&http.Client{Transport: rewriteTransport{target: target}})
}

func TestNilClient(t *testing.T) {
	var cli *Client
	if cli.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := cli.Connect(); !errors.Is(err, ErrClientIsNil) {
		t.Errorf("got %v, want ErrClientIsNil", err)
	}
	cli.Disconnect()
}

func TestConnectRequiresLogin(t *testing.T) {
	acc := testAccount()
	acc.SecretKey = ""
	cli := NewClient(acc, nil)
	if err := cli.Connect(); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("got %v, want ErrNotLoggedIn", err)
	}
}

func TestEventHandlerRemoval(t *testing.T) {
	cli := NewClient(testAccount(), nil)
	var first, second int
	firstID := cli.AddEventHandler(func(any) { first++ })
	cli.AddEventHandler(func(any) { second++ })

	cli.dispatchEvent("one")
	if !cli.RemoveEventHandler(firstID) {
		t.Fatal("handler not found for removal")
	}
	if cli.RemoveEventHandler(firstID) {
		t.Error("double removal succeeded")
	}
	cli.dispatchEvent("two")

	if first != 1 {
		t.Errorf("removed handler calls: got %d, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining handler calls: got %d, want 2", second)
	}
}

func TestEventHandlerPanicIsContained(t *testing.T) {
	cli := NewClient(testAccount(), nil)
	cli.AddEventHandler(func(any) { panic("boom") })
	cli.dispatchEvent("evt")
}

func TestRecentEventsRing(t *testing.T) {
	cli := NewClient(testAccount(), nil)
	for i := 0; i < recentEventsSize+20; i++ {
		cli.bufferEvent(fmt.Sprintf("evt-%d", i))
	}
	recent := cli.RecentEvents()
	if len(recent) != recentEventsSize {
		t.Fatalf("buffer size: got %d, want %d", len(recent), recentEventsSize)
	}
	if recent[0] != "evt-20" {
		t.Errorf("oldest entry: got %v, want evt-20", recent[0])
	}
	if recent[len(recent)-1] != fmt.Sprintf("evt-%d", recentEventsSize+19) {
		t.Errorf("newest entry: got %v", recent[len(recent)-1])
	}
}
