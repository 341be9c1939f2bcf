// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"github.com/wpachat/zalogo/util/tlsutil"
)

// SetProxyAddress is a helper method that parses a URL string and calls
// SetProxy or SetSOCKSProxy based on the URL scheme.
//
// Returns an error if url.Parse fails to parse the given address.
func (cli *Client) SetProxyAddress(addr string, opts ...SetProxyOptions) error {
	if addr == "" {
		cli.SetProxy(nil, opts...)
		return nil
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return err
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		cli.SetProxy(http.ProxyURL(parsed), opts...)
	} else if parsed.Scheme == "socks5" {
		px, err := proxy.FromURL(parsed, &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		})
		if err != nil {
			return err
		}
		cli.SetSOCKSProxy(px, opts...)
	} else {
		return fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	return nil
}

type Proxy = func(*http.Request) (*url.URL, error)

// SetProxy sets an HTTP proxy to use for the websocket connection and all API
// calls, including uploads.
//
// Must be called before Connect() to take effect in the websocket connection.
// To change the proxy after connecting, Disconnect() and Connect() again.
//
// By default, the client will find the proxy from the https_proxy environment
// variable like Go's net/http does. To disable reading proxy info from
// environment variables, explicitly set the proxy to nil:
//
//	cli.SetProxy(nil)
func (cli *Client) SetProxy(proxy Proxy, opts ...SetProxyOptions) {
	var opt SetProxyOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	transport := (http.DefaultTransport.(*http.Transport)).Clone()
	transport.Proxy = proxy
	cli.setTransport(transport, opt)
}

type SetProxyOptions struct {
	// If NoWebsocket is true, the proxy won't be used for the websocket
	NoWebsocket bool
	// If NoAPI is true, the proxy won't be used for API calls and uploads
	NoAPI bool
}

// SetSOCKSProxy sets a SOCKS5 proxy to use for the websocket connection and
// all API calls, including uploads.
//
// Same details as SetProxy apply.
func (cli *Client) SetSOCKSProxy(px proxy.Dialer, opts ...SetProxyOptions) {
	var opt SetProxyOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	transport := (http.DefaultTransport.(*http.Transport)).Clone()
	pxc := px.(proxy.ContextDialer)
	transport.DialContext = pxc.DialContext
	cli.setTransport(transport, opt)
}

func (cli *Client) setTransport(transport *http.Transport, opt SetProxyOptions) {
	if !opt.NoWebsocket {
		cli.websocketHTTP.Transport = transport
	}
	if !opt.NoAPI {
		cli.httpClient.Transport = transport
	}
}

// EnableBrowserTLS makes API calls present a Chrome TLS fingerprint matching
// the User-Agent, instead of Go's own ClientHello.
//
// It wraps whatever transport is currently set, so call it after any proxy
// setters.
func (cli *Client) EnableBrowserTLS() {
	base, _ := cli.httpClient.Transport.(*http.Transport)
	cli.httpClient.Transport = tlsutil.NewUTLSRoundTripper(tlsutil.ChromeHello, base)
}

// SetAPIHTTPClient sets the HTTP client used for API calls and uploads.
// This will overwrite any set proxy calls.
func (cli *Client) SetAPIHTTPClient(h *http.Client) {
	cli.httpClient = h
}

// SetWebsocketHTTPClient sets the HTTP client used to establish the websocket
// connection. This will overwrite any set proxy calls.
func (cli *Client) SetWebsocketHTTPClient(h *http.Client) {
	cli.websocketHTTP = h
}
