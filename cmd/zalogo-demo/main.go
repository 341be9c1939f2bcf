// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command zalogo-demo logs in with a QR code, connects the realtime socket
// and prints incoming events. Configuration comes from the environment:
//
//	ZALO_REDIS_URL    optional, Redis for QR session state (in-memory if unset)
//	ZALO_PROXY        optional, http:// or socks5:// proxy for all traffic
//	ZALO_ACCOUNT_FILE where the account credential JSON is stored
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/wpachat/zalogo"
	"github.com/wpachat/zalogo/store"
	"github.com/wpachat/zalogo/store/sessions"
	"github.com/wpachat/zalogo/types/events"
	zaLog "github.com/wpachat/zalogo/util/log"
)

// fileCredentialStore persists one account credential as a JSON file. The demo
// only ever links a single account.
type fileCredentialStore struct {
	path string
}

func (fcs *fileCredentialStore) GetAccount(_ context.Context, userID string) (*store.Account, error) {
	data, err := os.ReadFile(fcs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var acc store.Account
	if err = json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	if acc.UserID != userID {
		return nil, nil
	}
	return &acc, nil
}

func (fcs *fileCredentialStore) PutAccount(_ context.Context, acc *store.Account) error {
	data, err := json.MarshalIndent(acc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fcs.path, data, 0o600)
}

func (fcs *fileCredentialStore) DeleteAccount(_ context.Context, _ string) error {
	return os.Remove(fcs.path)
}

func (fcs *fileCredentialStore) load() *store.Account {
	data, err := os.ReadFile(fcs.path)
	if err != nil {
		return nil
	}
	var acc store.Account
	if json.Unmarshal(data, &acc) != nil {
		return nil
	}
	return &acc
}

func main() {
	_ = godotenv.Load()
	zl := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	log := zaLog.Zerolog(zl)

	accountFile := os.Getenv("ZALO_ACCOUNT_FILE")
	if accountFile == "" {
		accountFile = "zalo-account.json"
	}
	credentials := &fileCredentialStore{path: accountFile}

	var sessionStore sessions.Store
	if redisURL := os.Getenv("ZALO_REDIS_URL"); redisURL != "" {
		var err error
		sessionStore, err = sessions.NewRedisStoreURL(redisURL)
		if err != nil {
			log.Errorf("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
	} else {
		sessionStore = sessions.NewMemoryStore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	acc := credentials.load()
	if acc == nil || !acc.LoggedIn() {
		var err error
		acc, err = runQRLogin(ctx, sessionStore, credentials, log)
		if err != nil {
			log.Errorf("Login failed: %v", err)
			os.Exit(1)
		}
		if err = credentials.PutAccount(ctx, acc); err != nil {
			log.Errorf("Failed to save credential: %v", err)
			os.Exit(1)
		}
		log.Infof("Logged in as %s (%s)", acc.DisplayName, acc.UserID)
	}

	manager := zalogo.NewManager(credentials, log)
	err := manager.StartListening(ctx, acc, func(evt any) {
		switch e := evt.(type) {
		case *events.Message:
			fmt.Printf("[%s] %s: %s\n", e.ConversationID, e.SenderName, e.Content)
		case *events.Typing:
			fmt.Printf("[%s] typing...\n", e.UserID)
		case *events.FriendAction:
			fmt.Printf("friend %s from %s\n", e.Action, e.FromUserID)
		case *events.AuthExpired:
			fmt.Printf("session expired: %s\n", e.Reason)
			stop()
		}
	})
	if err != nil {
		log.Errorf("Failed to connect: %v", err)
		os.Exit(1)
	}
	if proxyAddr := os.Getenv("ZALO_PROXY"); proxyAddr != "" {
		if err = manager.Client(acc.UserID).SetProxyAddress(proxyAddr); err != nil {
			log.Warnf("Ignoring invalid proxy address: %v", err)
		}
	}
	manager.AttachConsumer(acc.UserID)

	<-ctx.Done()
	manager.StopListening(acc.UserID)
}

func runQRLogin(ctx context.Context, sessionStore sessions.Store, credentials *fileCredentialStore, log zaLog.Logger) (*store.Account, error) {
	flow := zalogo.NewQRLogin(sessionStore, credentials, log.Sub("Login"))
	flow.StateCallback = func(update zalogo.StateUpdate) {
		log.Debugf("Login state: %s %s", update.State, update.Message)
	}

	start, err := flow.StartLogin(ctx)
	if err != nil {
		return nil, err
	}
	qrPath := "zalo-qr.png"
	png, err := base64.StdEncoding.DecodeString(start.QRImage)
	if err != nil {
		return nil, fmt.Errorf("bad QR image: %w", err)
	}
	if err = os.WriteFile(qrPath, png, 0o600); err != nil {
		return nil, err
	}
	fmt.Printf("Scan %s with the Zalo app on your phone\n", qrPath)

	result, err := flow.PollLogin(ctx, start.SessionID)
	if err != nil {
		return nil, err
	}
	if result.State != zalogo.StateCompleted {
		return nil, fmt.Errorf("login ended in state %s: %s", result.State, result.Message)
	}
	return result.Account, nil
}
