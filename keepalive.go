// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// keepAliveLoop sends protocol pings and empty application frames for as long
// as the connection lives. The server closes idle sockets that don't send the
// empty frame.
func (cli *Client) keepAliveLoop(ctx context.Context, conn *websocket.Conn) {
	pingTicker := time.NewTicker(websocketPingTime)
	frameTicker := time.NewTicker(keepAliveInterval)
	defer pingTicker.Stop()
	defer frameTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, websocketPingTime)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					cli.Log.Warnf("Websocket ping failed: %v", err)
					cli.resetConnection()
				}
				return
			}
		case <-frameTicker.C:
			writeCtx, cancel := context.WithTimeout(ctx, websocketPingTime)
			err := conn.Write(writeCtx, websocket.MessageText, []byte{})
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					cli.Log.Warnf("Keepalive frame failed: %v", err)
					cli.resetConnection()
				}
				return
			}
			cli.sendLog.Debugf("Sent keepalive frame")
		}
	}
}
