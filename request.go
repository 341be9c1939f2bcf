// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package zalogo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/wpachat/zalogo/crypto"
)

// apiResponse is the outer JSON envelope of every signed API call. The data
// field is an encrypted blob that decrypts to the endpoint-specific response.
type apiResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Data         string `json:"data"`
}

// removeNulls drops nil-valued entries so they never reach the signed
// parameter set. The payload builders use nil to mean "omit this field".
func removeNulls(payload map[string]any) map[string]any {
	for key, value := range payload {
		if value == nil {
			delete(payload, key)
		}
	}
	return payload
}

// buildSignedURL encrypts the payload with the account's secret key and
// assembles the query string: the encrypted params, any endpoint-specific
// extras, the request signature and the API version markers.
func (cli *Client) buildSignedURL(baseURL, requestType string, payload map[string]any, extraQuery map[string]string) (string, error) {
	data, err := json.Marshal(removeNulls(payload))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}
	encrypted, err := crypto.EncodeAES(cli.Store.SecretKey, string(data))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt request payload: %w", err)
	}

	signed := map[string]string{"params": encrypted}
	for key, value := range extraQuery {
		signed[key] = value
	}
	query := cli.apiValues()
	for key, value := range signed {
		query.Set(key, value)
	}
	query.Set("signkey", crypto.SignKey(requestType, signed))
	return baseURL + "?" + query.Encode(), nil
}

// postSigned performs a signed API call and returns the decrypted response
// body. A nil body sends a plain POST; upload calls pass a multipart body.
// The account's cookie jar is applied before the call and rotated from the
// response's Set-Cookie headers before returning.
func (cli *Client) postSigned(ctx context.Context, fullURL string, body io.Reader, contentType string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, body)
	if err != nil {
		return nil, err
	}
	cli.setRequestHeaders(req.Header)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	cli.cookieLock.Lock()
	req.Header.Set("Cookie", cli.Store.Cookies.Header())
	cli.cookieLock.Unlock()

	cli.sendLog.Debugf("POST %s", req.URL.Host+req.URL.Path)
	resp, err := cli.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	cli.cookieLock.Lock()
	cli.Store.Cookies.UpdateFromResponse(resp)
	cli.cookieLock.Unlock()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, URL: req.URL.Host + req.URL.Path}
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var envelope apiResponse
	if err = json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response envelope: %w", err)
	}
	if envelope.Data == "" {
		return nil, &ProtocolError{Code: envelope.ErrorCode, Message: envelope.ErrorMessage}
	}
	decrypted, err := crypto.DecodeAES(cli.Store.SecretKey, envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt response: %w", err)
	}
	return json.RawMessage(decrypted), nil
}

// sendSignedRequest is the common path for the plain (non-upload) signed calls.
func (cli *Client) sendSignedRequest(ctx context.Context, baseURL, requestType string, payload map[string]any, extraQuery map[string]string) (json.RawMessage, error) {
	if !cli.Store.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	fullURL, err := cli.buildSignedURL(baseURL, requestType, payload, extraQuery)
	if err != nil {
		return nil, err
	}
	return cli.postSigned(ctx, fullURL, nil, "")
}
