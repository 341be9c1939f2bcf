// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"context"
	"sync"
	"time"

	"github.com/wpachat/zalogo/store"
	"github.com/wpachat/zalogo/types"
	zaLog "github.com/wpachat/zalogo/util/log"
)

// MaxConnections is the hard cap on simultaneously connected accounts per
// process.
const MaxConnections = 50

// idleGracePeriod is how long a connection survives after its last consumer
// detaches before it is torn down.
const idleGracePeriod = 300 * time.Second

type managedClient struct {
	client    *Client
	handlerID uint32
	consumers int
	idleTimer *time.Timer
}

// Manager keeps one live realtime connection per account and tears idle ones
// down when no downstream consumer is attached.
type Manager struct {
	Log         zaLog.Logger
	Credentials store.CredentialStore

	MaxConnections  int
	IdleGracePeriod time.Duration
	// WebsocketURL overrides the realtime endpoint of spawned clients.
	WebsocketURL string

	lock    sync.Mutex
	clients map[string]*managedClient
}

// NewManager creates a connection registry. The credential store is handed to
// every client it spawns so status flips get persisted.
func NewManager(credentials store.CredentialStore, log zaLog.Logger) *Manager {
	if log == nil {
		log = zaLog.Noop
	}
	return &Manager{
		Log:             log,
		Credentials:     credentials,
		MaxConnections:  MaxConnections,
		IdleGracePeriod: idleGracePeriod,
		clients:         make(map[string]*managedClient),
	}
}

// StartListening opens the realtime connection for an account and routes its
// events to the sink. Calling it again for an account that is already
// registered is a no-op.
func (mgr *Manager) StartListening(ctx context.Context, acc *store.Account, sink EventHandler) error {
	mgr.lock.Lock()
	if _, ok := mgr.clients[acc.UserID]; ok {
		mgr.lock.Unlock()
		mgr.Log.Debugf("Connection for account %s already registered", acc.UserID)
		return nil
	}
	if len(mgr.clients) >= mgr.MaxConnections {
		mgr.lock.Unlock()
		return ErrTooManyConnections
	}

	cli := NewClient(acc, mgr.Log.Sub(acc.UserID))
	cli.Credentials = mgr.Credentials
	if mgr.WebsocketURL != "" {
		cli.WebsocketURL = mgr.WebsocketURL
	}
	handlerID := cli.AddEventHandler(sink)
	mc := &managedClient{client: cli, handlerID: handlerID}
	mgr.clients[acc.UserID] = mc
	mgr.lock.Unlock()

	if err := cli.ConnectContext(ctx); err != nil {
		mgr.lock.Lock()
		delete(mgr.clients, acc.UserID)
		mgr.lock.Unlock()
		return err
	}
	return nil
}

// StopListening closes the account's connection and forgets it. Safe to call
// concurrently and while a reconnect timer is pending; it cancels the timer.
func (mgr *Manager) StopListening(accountID string) {
	mgr.lock.Lock()
	mc, ok := mgr.clients[accountID]
	if ok {
		delete(mgr.clients, accountID)
		if mc.idleTimer != nil {
			mc.idleTimer.Stop()
		}
	}
	mgr.lock.Unlock()
	if !ok {
		return
	}
	mc.client.RemoveEventHandler(mc.handlerID)
	mc.client.Disconnect()
	mgr.Log.Infof("Stopped listening for account %s", accountID)
}

// IsListening reports whether a connection is registered for the account.
func (mgr *Manager) IsListening(accountID string) bool {
	mgr.lock.Lock()
	defer mgr.lock.Unlock()
	_, ok := mgr.clients[accountID]
	return ok
}

// Client returns the live client for an account, or nil when none is
// registered.
func (mgr *Manager) Client(accountID string) *Client {
	mgr.lock.Lock()
	defer mgr.lock.Unlock()
	if mc, ok := mgr.clients[accountID]; ok {
		return mc.client
	}
	return nil
}

// AttachConsumer records one downstream consumer of the account's events and
// cancels a pending idle teardown.
func (mgr *Manager) AttachConsumer(accountID string) {
	mgr.lock.Lock()
	defer mgr.lock.Unlock()
	mc, ok := mgr.clients[accountID]
	if !ok {
		return
	}
	mc.consumers++
	if mc.idleTimer != nil {
		mc.idleTimer.Stop()
		mc.idleTimer = nil
	}
}

// DetachConsumer removes one downstream consumer. When the last one detaches,
// the connection is stopped after the grace period unless a consumer
// reattaches first.
func (mgr *Manager) DetachConsumer(accountID string) {
	mgr.lock.Lock()
	defer mgr.lock.Unlock()
	mc, ok := mgr.clients[accountID]
	if !ok {
		return
	}
	if mc.consumers > 0 {
		mc.consumers--
	}
	if mc.consumers == 0 && mc.idleTimer == nil {
		mgr.Log.Debugf("Last consumer of %s detached, starting idle timer", accountID)
		mc.idleTimer = time.AfterFunc(mgr.IdleGracePeriod, func() {
			mgr.stopIfIdle(accountID)
		})
	}
}

func (mgr *Manager) stopIfIdle(accountID string) {
	mgr.lock.Lock()
	mc, ok := mgr.clients[accountID]
	idle := ok && mc.consumers == 0
	mgr.lock.Unlock()
	if idle {
		mgr.Log.Infof("Tearing down idle connection for account %s", accountID)
		mgr.StopListening(accountID)
	}
}

// Send delivers an outbound request through the account's registered client.
func (mgr *Manager) Send(ctx context.Context, accountID string, req *types.SendRequest) *types.SendResponse {
	cli := mgr.Client(accountID)
	if cli == nil {
		return &types.SendResponse{Error: ErrNotConnected}
	}
	return cli.Send(ctx, req)
}
