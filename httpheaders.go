// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"net/http"
)

// DefaultUserAgent is the browser identity of the web client build whose
// protocol version this library speaks. The server correlates the UA with
// zpw_ver, so it should not be changed independently.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36"

// setRequestHeaders applies the browser headers every API call carries.
func (cli *Client) setRequestHeaders(headers http.Header) {
	headers.Set("User-Agent", cli.UserAgent)
	headers.Set("Accept", "application/json, text/plain, */*")
	headers.Set("Accept-Language", "vi-VN,vi;q=0.9")
	headers.Set("Origin", Origin)
	headers.Set("Referer", Origin+"/")
	headers.Set("Sec-Fetch-Dest", "empty")
	headers.Set("Sec-Fetch-Mode", "cors")
	headers.Set("Sec-Fetch-Site", "same-site")
}

// setWebsocketHeaders applies the browser headers for the realtime handshake.
func (cli *Client) setWebsocketHeaders(headers http.Header) {
	headers.Set("User-Agent", cli.UserAgent)
	headers.Set("Origin", Origin)
	headers.Set("Accept-Language", "vi-VN,vi;q=0.9")
	headers.Set("Sec-Fetch-Dest", "empty")
	headers.Set("Sec-Fetch-Mode", "websocket")
	headers.Set("Sec-Fetch-Site", "cross-site")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Pragma", "no-cache")
}
