// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package zalogo implements a client for the private web API of Zalo,
// including the QR login handshake, the encrypted real-time websocket and the
// signed message/file/friend HTTP calls.
package zalogo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.mau.fi/util/exhttp"
	"go.mau.fi/util/exsync"
	"go.mau.fi/util/ptr"

	"github.com/wpachat/zalogo/store"
	"github.com/wpachat/zalogo/types/events"
	zaLog "github.com/wpachat/zalogo/util/log"
)

// EventHandler is a function that can handle events from the real-time connection.
type EventHandler func(evt any)

var nextHandlerID uint32

type wrappedEventHandler struct {
	fn EventHandler
	id uint32
}

// Size of the per-account ring buffer of recently dispatched events, kept for
// replay-on-reconnect diagnostics.
const recentEventsSize = 100

// Default intervals for the connection maintenance loops.
const (
	keepAliveInterval = 120 * time.Second
	websocketPingTime = 20 * time.Second
	maxReconnectDelay = 30 * time.Second
)

// How many consecutive session-invalidation frames the client tolerates before
// giving up on the credential entirely.
const maxSessionInvalidations = 3

// Client owns the session of one authenticated Zalo account: the real-time
// websocket with its keepalive and reconnect loops, and the outbound signed
// HTTP calls.
type Client struct {
	Store *store.Account
	// Credentials is optional; when set, the client persists status flips
	// (auth_error on fatal session failures) and activity bumps.
	Credentials store.CredentialStore
	Log         zaLog.Logger
	recvLog     zaLog.Logger
	sendLog     zaLog.Logger

	socket     *websocket.Conn
	socketLock sync.RWMutex
	socketStop context.CancelFunc

	// sessionInvalidations counts consecutive frames that signal the server no
	// longer recognizes the session. Reconnecting fixes a one-off, but if the
	// server keeps invalidating the session the cookies are gone for good.
	sessionInvalidations atomic.Int32

	expectedDisconnect    *exsync.Event
	EnableAutoReconnect   bool
	LastSuccessfulConnect time.Time
	AutoReconnectErrors   int
	// AutoReconnectHook is called before each reconnect attempt. If it
	// returns false, the client stops trying. The number of retries can be
	// read from AutoReconnectErrors.
	AutoReconnectHook func(error) bool

	// cookieLock serializes every read-modify-write of the account's cookie
	// jar. The server rotates session cookies on most responses, so all send
	// paths and the websocket dialer take this lock.
	cookieLock sync.Mutex

	eventHandlers     []wrappedEventHandler
	eventHandlersLock sync.RWMutex

	recentEvents     [recentEventsSize]any
	recentEventsPtr  int
	recentEventsLock sync.Mutex

	// UserAgent is the browser identity presented on every request.
	UserAgent string
	// WebsocketURL is the realtime endpoint, overridable for tests.
	WebsocketURL string

	httpClient    *http.Client
	websocketHTTP *http.Client
}

// NewClient initializes a client for an authenticated account credential.
//
// The logger can be nil, it will default to a no-op logger. The credential
// must come from a completed QR login (or the host's credential store).
func NewClient(acc *store.Account, log zaLog.Logger) *Client {
	if log == nil {
		log = zaLog.Noop
	}
	baseHTTPClient := &http.Client{
		Transport: (http.DefaultTransport.(*http.Transport)).Clone(),
		Timeout:   60 * time.Second,
	}
	cli := &Client{
		Store:              acc,
		Log:                log,
		recvLog:            log.Sub("Recv"),
		sendLog:            log.Sub("Send"),
		expectedDisconnect: exsync.NewEvent(),
		eventHandlers:      make([]wrappedEventHandler, 0, 1),
		UserAgent:          DefaultUserAgent,
		WebsocketURL:       WebsocketURL,

		httpClient:    ptr.Clone(baseHTTPClient),
		websocketHTTP: ptr.Clone(baseHTTPClient),

		EnableAutoReconnect: true,
	}
	// Websocket dials must not be subject to the request timeout.
	cli.websocketHTTP.Timeout = 0
	return cli
}

// AddEventHandler registers a new function to receive all events emitted by
// this client. The returned integer is the event handler ID, which can be
// passed to RemoveEventHandler to remove it.
func (cli *Client) AddEventHandler(handler EventHandler) uint32 {
	nextID := atomic.AddUint32(&nextHandlerID, 1)
	cli.eventHandlersLock.Lock()
	defer cli.eventHandlersLock.Unlock()
	cli.eventHandlers = append(cli.eventHandlers, wrappedEventHandler{handler, nextID})
	return nextID
}

// RemoveEventHandler removes a previously registered event handler function.
func (cli *Client) RemoveEventHandler(id uint32) bool {
	cli.eventHandlersLock.Lock()
	defer cli.eventHandlersLock.Unlock()
	for index, handler := range cli.eventHandlers {
		if handler.id == id {
			if index == 0 {
				cli.eventHandlers[0].fn = nil
				cli.eventHandlers = cli.eventHandlers[1:]
			} else if index < len(cli.eventHandlers)-1 {
				copy(cli.eventHandlers[index:], cli.eventHandlers[index+1:])
				cli.eventHandlers[len(cli.eventHandlers)-1].fn = nil
				cli.eventHandlers = cli.eventHandlers[:len(cli.eventHandlers)-1]
			} else {
				cli.eventHandlers[index].fn = nil
				cli.eventHandlers = cli.eventHandlers[:index]
			}
			return true
		}
	}
	return false
}

func (cli *Client) dispatchEvent(evt any) {
	cli.eventHandlersLock.RLock()
	defer func() {
		cli.eventHandlersLock.RUnlock()
		err := recover()
		if err != nil {
			cli.Log.Errorf("Event handler panicked while handling a %T: %v\n%s", evt, err, debug.Stack())
		}
	}()
	cli.bufferEvent(evt)
	for _, handler := range cli.eventHandlers {
		handler.fn(evt)
	}
}

func (cli *Client) bufferEvent(evt any) {
	cli.recentEventsLock.Lock()
	cli.recentEvents[cli.recentEventsPtr] = evt
	cli.recentEventsPtr = (cli.recentEventsPtr + 1) % recentEventsSize
	cli.recentEventsLock.Unlock()
}

// RecentEvents returns a copy of the bounded buffer of recently dispatched
// events, oldest first. Useful for diagnosing what happened around a reconnect.
func (cli *Client) RecentEvents() []any {
	cli.recentEventsLock.Lock()
	defer cli.recentEventsLock.Unlock()
	out := make([]any, 0, recentEventsSize)
	for i := 0; i < recentEventsSize; i++ {
		evt := cli.recentEvents[(cli.recentEventsPtr+i)%recentEventsSize]
		if evt != nil {
			out = append(out, evt)
		}
	}
	return out
}

// Connect opens the real-time websocket for the account. After the connection
// opens, decrypted inbound events are delivered to the registered event
// handlers in the order they arrive on the socket.
func (cli *Client) Connect() error {
	return cli.ConnectContext(context.Background())
}

func (cli *Client) ConnectContext(ctx context.Context) error {
	if cli == nil {
		return ErrClientIsNil
	}
	cli.socketLock.Lock()
	defer cli.socketLock.Unlock()
	return cli.unlockedConnect(ctx)
}

func (cli *Client) unlockedConnect(ctx context.Context) error {
	if cli.socket != nil {
		return ErrAlreadyConnected
	}
	if !cli.Store.LoggedIn() {
		if cli.Store.Status == store.StatusAuthError {
			return &AuthExpiredError{Reason: "credential is marked auth_error, log in again"}
		}
		return ErrNotLoggedIn
	}
	cli.resetExpectedDisconnect()

	wsURL := fmt.Sprintf("%s?zpw_ver=%d&zpw_type=%d&t=%d",
		cli.WebsocketURL, cli.Store.APIVersion, cli.Store.APIType, time.Now().UnixMilli())

	headers := make(http.Header)
	cli.setWebsocketHeaders(headers)
	cli.cookieLock.Lock()
	headers.Set("Cookie", cli.Store.Cookies.Header())
	cli.cookieLock.Unlock()

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: cli.websocketHTTP,
		HTTPHeader: headers,
	})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed: %w (%w)", err, &HTTPError{Status: resp.StatusCode, URL: cli.WebsocketURL})
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	// Frame generation 2 payloads can be several megabytes after a burst of
	// offline messages.
	conn.SetReadLimit(32 << 20)

	connCtx, cancel := context.WithCancel(context.Background())
	cli.socket = conn
	cli.socketStop = cancel

	cli.LastSuccessfulConnect = time.Now()
	cli.AutoReconnectErrors = 0
	cli.bumpActivity(connCtx)
	cli.Log.Infof("Websocket connected for account %s", cli.Store.UserID)
	go cli.dispatchEvent(&events.Connected{AccountID: cli.Store.UserID})
	go cli.readLoop(connCtx, conn)
	go cli.keepAliveLoop(connCtx, conn)
	return nil
}

// IsConnected reports whether the websocket is currently open.
func (cli *Client) IsConnected() bool {
	if cli == nil {
		return false
	}
	cli.socketLock.RLock()
	defer cli.socketLock.RUnlock()
	return cli.socket != nil
}

// Disconnect closes the websocket with a normal closure code. It does not
// trigger auto-reconnect and is safe to call concurrently with a pending
// reconnect timer (the timer is cancelled).
func (cli *Client) Disconnect() {
	if cli == nil {
		return
	}
	cli.expectDisconnect()
	cli.socketLock.Lock()
	defer cli.socketLock.Unlock()
	cli.unlockedDisconnect(websocket.StatusNormalClosure, "client disconnect")
}

func (cli *Client) unlockedDisconnect(code websocket.StatusCode, reason string) {
	if cli.socket == nil {
		return
	}
	_ = cli.socket.Close(code, reason)
	if cli.socketStop != nil {
		cli.socketStop()
		cli.socketStop = nil
	}
	cli.socket = nil
	// The read loop finds a stale socket after this and stays quiet, so the
	// disconnect event has to come from here.
	go cli.dispatchEvent(&events.Disconnected{AccountID: cli.Store.UserID})
}

// resetConnection drops the current socket without marking the disconnect as
// expected, so the read loop's exit escalates into a reconnect.
func (cli *Client) resetConnection() {
	cli.socketLock.Lock()
	defer cli.socketLock.Unlock()
	if cli.socket != nil {
		_ = cli.socket.Close(websocket.StatusAbnormalClosure, "resetting connection")
	}
}

func (cli *Client) expectDisconnect() {
	cli.expectedDisconnect.Set()
}

func (cli *Client) resetExpectedDisconnect() {
	cli.expectedDisconnect.Clear()
}

func (cli *Client) isExpectedDisconnect() bool {
	return cli.expectedDisconnect.IsSet()
}

func (cli *Client) onDisconnect(conn *websocket.Conn, readErr error) {
	cli.socketLock.Lock()
	if cli.socket == conn {
		if cli.socketStop != nil {
			cli.socketStop()
			cli.socketStop = nil
		}
		cli.socket = nil
	} else {
		cli.socketLock.Unlock()
		cli.Log.Debugf("Ignoring disconnect of stale socket")
		return
	}
	cli.socketLock.Unlock()

	if cli.isExpectedDisconnect() {
		cli.Log.Debugf("Websocket closed after manual disconnect")
		return
	}
	cli.Log.Warnf("Websocket disconnected unexpectedly: %v", readErr)
	go cli.dispatchEvent(&events.Disconnected{AccountID: cli.Store.UserID})
	if cli.EnableAutoReconnect {
		go cli.autoReconnect(readErr)
	}
}

func (cli *Client) autoReconnect(cause error) {
	for {
		cli.AutoReconnectErrors++
		delay := time.Duration(cli.AutoReconnectErrors) * 2 * time.Second
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
		if cli.AutoReconnectHook != nil && !cli.AutoReconnectHook(cause) {
			cli.Log.Debugf("AutoReconnectHook returned false, not reconnecting")
			return
		}
		cli.Log.Debugf("Reconnecting in %v (attempt #%d)", delay, cli.AutoReconnectErrors)
		cli.dispatchEvent(&events.ReconnectScheduled{
			AccountID: cli.Store.UserID,
			Delay:     delay,
			Attempts:  cli.AutoReconnectErrors,
		})
		select {
		case <-time.After(delay):
		case <-cli.expectedDisconnect.GetChan():
			cli.Log.Debugf("Reconnect timer cancelled by disconnect request")
			return
		}
		// The dial must use the credential's current cookie jar, which may
		// have rotated since the previous connection was opened.
		err := cli.ConnectContext(context.Background())
		if err == nil || errors.Is(err, ErrAlreadyConnected) {
			return
		}
		cause = err
		if !isRetryableConnectError(err) {
			cli.Log.Errorf("Giving up on reconnecting: %v", err)
			var httpErr *HTTPError
			if errors.As(err, &httpErr) && httpErr.IsAuthFailure() {
				cli.markAuthError(fmt.Sprintf("reconnect rejected with HTTP %d", httpErr.Status))
			}
			return
		}
		cli.Log.Errorf("Failed to reconnect: %v", err)
	}
}

func isRetryableConnectError(err error) bool {
	if exhttp.IsNetworkError(err) {
		return true
	}
	var authErr *AuthExpiredError
	if errors.As(err, &authErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsTransient()
	}
	// coder/websocket wraps handshake failures opaquely; those are worth
	// retrying too, so only explicit non-transient HTTP statuses give up.
	return true
}

// markAuthError flips the credential to auth_error and tells the host. Called
// when the server rejects the session in a way reconnecting can't fix.
func (cli *Client) markAuthError(reason string) {
	cli.Store.Status = store.StatusAuthError
	if cli.Credentials != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := cli.Credentials.PutAccount(ctx, cli.Store); err != nil {
			cli.Log.Warnf("Failed to persist auth_error status: %v", err)
		}
	}
	go cli.dispatchEvent(&events.AuthExpired{AccountID: cli.Store.UserID, Reason: reason})
}

func (cli *Client) bumpActivity(ctx context.Context) {
	cli.Store.LastActivityAt = time.Now()
	if cli.Credentials != nil {
		acc := cli.Store
		go func() {
			saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := cli.Credentials.PutAccount(saveCtx, acc); err != nil {
				cli.Log.Debugf("Failed to persist activity bump: %v", err)
			}
		}()
	}
}

func (cli *Client) apiValues() url.Values {
	vals := make(url.Values)
	vals.Set("zpw_ver", strconv.Itoa(cli.Store.APIVersion))
	vals.Set("zpw_type", strconv.Itoa(cli.Store.APIType))
	return vals
}
