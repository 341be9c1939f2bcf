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
	"net/url"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wpachat/zalogo/crypto"
	"github.com/wpachat/zalogo/store"
	"github.com/wpachat/zalogo/store/sessions"
	"github.com/wpachat/zalogo/types"
	zaLog "github.com/wpachat/zalogo/util/log"
)

// LoginState is one step of the QR login handshake. The flow progresses
// through the states in order; Declined, Expired, AccountExists and
// ServerError are terminal failures, Completed is the terminal success.
type LoginState string

const (
	StateLoadingPage      LoginState = "loading_page"
	StateLoginInfoFetched LoginState = "login_info_fetched"
	StateClientVerified   LoginState = "client_verified"
	StateQRGenerated      LoginState = "qr_generated"
	StateAwaitingScan     LoginState = "awaiting_scan"
	StateAwaitingConfirm  LoginState = "awaiting_confirm"
	StateSessionChecked   LoginState = "session_checked"
	StateUserInfoFetched  LoginState = "user_info_fetched"
	StateCompleted        LoginState = "completed"

	StateDeclined      LoginState = "declined"
	StateExpired       LoginState = "expired"
	StateAccountExists LoginState = "account_exists"
	StateServerError   LoginState = "server_error"
)

// IsTerminal reports whether the state ends the handshake.
func (ls LoginState) IsTerminal() bool {
	switch ls {
	case StateCompleted, StateDeclined, StateExpired, StateAccountExists, StateServerError:
		return true
	}
	return false
}

// StateUpdate is delivered to the state callback on every transition.
type StateUpdate struct {
	State   LoginState
	Message string
	Data    any
}

// Server error codes of the QR waiting endpoints.
const (
	qrCodePending  = 8
	qrCodeDeclined = -13
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPhaseTimeout = 60 * time.Second
	defaultSessionTTL   = 60 * time.Second
)

var loginVersionRegex = regexp.MustCompile(`https://stc-zlogin\.zdn\.vn/main-([\d.]+)\.js`)

// QRLogin runs the QR code login handshake. One instance can serve many
// concurrent handshakes; per-handshake state lives in the session store.
type QRLogin struct {
	Sessions sessions.Store
	// Credentials is used for the duplicate-account check on completion.
	// When nil, the check is skipped.
	Credentials store.CredentialStore
	Log         zaLog.Logger

	// StateCallback is invoked on every state transition. Panics in the
	// callback are logged and swallowed, they never abort the handshake.
	StateCallback func(update StateUpdate)

	UserAgent    string
	PollInterval time.Duration
	PhaseTimeout time.Duration
	SessionTTL   time.Duration

	// Endpoint origins, overridable for tests.
	AccountOrigin  string
	UserInfoOrigin string
	LoginAPIOrigin string

	HTTPClient *http.Client
}

// NewQRLogin creates a login flow handler with the production endpoints.
func NewQRLogin(sessionStore sessions.Store, credentials store.CredentialStore, log zaLog.Logger) *QRLogin {
	if log == nil {
		log = zaLog.Noop
	}
	return &QRLogin{
		Sessions:    sessionStore,
		Credentials: credentials,
		Log:         log,

		UserAgent:    DefaultUserAgent,
		PollInterval: defaultPollInterval,
		PhaseTimeout: defaultPhaseTimeout,
		SessionTTL:   defaultSessionTTL,

		AccountOrigin:  accountOrigin,
		UserInfoOrigin: userInfoOrigin,
		LoginAPIOrigin: loginAPIOrigin,

		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// QRStart is the result of StartLogin: the session ID to poll with and the
// QR code image to show the user.
type QRStart struct {
	SessionID string
	// QRImage is the base64-encoded PNG, without a data URI prefix.
	QRImage string
}

// PollResult is the outcome of one PollLogin call.
type PollResult struct {
	State   LoginState
	Message string
	// Account is set only when State is StateCompleted. It has not been
	// persisted; the caller owns storing it.
	Account *store.Account
}

// accountResponse is the JSON envelope of the id.zalo.me endpoints.
type accountResponse struct {
	ErrorCode    int             `json:"error_code"`
	ErrorMessage string          `json:"error_message"`
	Data         json.RawMessage `json:"data"`
}

// StartLogin walks the pre-scan phase of the handshake (page load, login info,
// client verification, QR generation) and stores the resulting session so a
// later PollLogin call, possibly in another process, can pick it up.
func (ql *QRLogin) StartLogin(ctx context.Context) (*QRStart, error) {
	jar := types.NewCookieJar()
	ql.emit(StateLoadingPage, "loading login page", nil)

	version, err := ql.loadLoginPage(ctx, jar)
	if err != nil {
		ql.emit(StateServerError, err.Error(), nil)
		return nil, err
	}

	if err = ql.accountForm(ctx, jar, loginInfoPath, url.Values{
		"continue": {qrContinueURL},
		"v":        {version},
	}, nil); err != nil {
		ql.emit(StateServerError, err.Error(), nil)
		return nil, fmt.Errorf("failed to fetch login info: %w", err)
	}
	ql.emit(StateLoginInfoFetched, "", nil)

	if err = ql.accountForm(ctx, jar, verifyClientPath, url.Values{
		"type":     {"device"},
		"continue": {qrContinueURL},
		"v":        {version},
	}, nil); err != nil {
		ql.emit(StateServerError, err.Error(), nil)
		return nil, fmt.Errorf("failed to verify client: %w", err)
	}
	ql.emit(StateClientVerified, "", nil)

	var qrData struct {
		Code  string `json:"code"`
		Image string `json:"image"`
	}
	if err = ql.accountForm(ctx, jar, qrGeneratePath, url.Values{
		"continue": {qrContinueURL},
		"v":        {version},
	}, &qrData); err != nil {
		ql.emit(StateServerError, err.Error(), nil)
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	sessionID := uuid.NewString()
	err = ql.Sessions.Put(ctx, sessionID, &sessions.QRSession{
		Cookies:   jar,
		Version:   version,
		Code:      qrData.Code,
		CreatedAt: time.Now(),
	}, ql.SessionTTL)
	if err != nil {
		ql.emit(StateServerError, err.Error(), nil)
		return nil, fmt.Errorf("failed to store QR session: %w", err)
	}

	image := strings.TrimPrefix(qrData.Image, "data:image/png;base64,")
	ql.emit(StateQRGenerated, "", map[string]string{"session_id": sessionID})
	ql.Log.Infof("Generated QR login session %s", sessionID)
	return &QRStart{SessionID: sessionID, QRImage: image}, nil
}

// PollLogin resumes a QR session and drives it to a terminal state: it waits
// for the phone to scan and confirm the code, validates the session, fetches
// the user profile and the encrypted login payload, and assembles the account
// credential. The session entry is deleted on every terminal state.
func (ql *QRLogin) PollLogin(ctx context.Context, sessionID string) (*PollResult, error) {
	sess, err := ql.Sessions.Get(ctx, sessionID)
	if err != nil {
		if err == sessions.ErrNotFound {
			ql.emit(StateExpired, "session not found", nil)
			return &PollResult{State: StateExpired, Message: ErrSessionNotFound.Error()}, nil
		}
		return nil, err
	}
	jar := sess.Cookies

	ql.emit(StateAwaitingScan, "", nil)
	if result := ql.waitForQR(ctx, sessionID, jar, qrWaitingScanPath, url.Values{
		"code":     {sess.Code},
		"continue": {Origin + "/"},
		"v":        {sess.Version},
	}); result != nil {
		return result, nil
	}

	ql.emit(StateAwaitingConfirm, "", nil)
	if result := ql.waitForQR(ctx, sessionID, jar, qrWaitingConfirmPath, url.Values{
		"code":     {sess.Code},
		"gToken":   {""},
		"gAction":  {"CONFIRM_QR"},
		"continue": {Origin + "/"},
		"v":        {sess.Version},
	}); result != nil {
		return result, nil
	}

	if err = ql.checkSession(ctx, jar); err != nil {
		return ql.terminate(ctx, sessionID, StateServerError, err.Error()), nil
	}
	ql.emit(StateSessionChecked, "", nil)

	name, avatar, err := ql.fetchUserInfo(ctx, jar)
	if err != nil {
		return ql.terminate(ctx, sessionID, StateServerError, err.Error()), nil
	}
	ql.emit(StateUserInfoFetched, "", map[string]string{"name": name})

	account, err := ql.fetchLoginInfo(ctx, jar)
	if err != nil {
		return ql.terminate(ctx, sessionID, StateServerError, err.Error()), nil
	}
	account.DisplayName = name
	account.AvatarURL = avatar

	if ql.Credentials != nil {
		existing, lookupErr := ql.Credentials.GetAccount(ctx, account.UserID)
		if lookupErr == nil && existing != nil {
			return ql.terminate(ctx, sessionID, StateAccountExists, ErrAccountExists.Error()), nil
		}
	}

	if err = ql.Sessions.Delete(ctx, sessionID); err != nil {
		ql.Log.Warnf("Failed to delete completed QR session %s: %v", sessionID, err)
	}
	ql.emit(StateCompleted, "", map[string]string{"user_id": account.UserID})
	ql.Log.Infof("QR login completed for user %s", account.UserID)
	return &PollResult{State: StateCompleted, Account: account}, nil
}

// waitForQR polls one waiting endpoint until the server leaves the pending
// state or the phase timeout elapses. A nil return means success; otherwise
// the returned result is terminal and the session has been cleaned up.
func (ql *QRLogin) waitForQR(ctx context.Context, sessionID string, jar *types.CookieJar, path string, form url.Values) *PollResult {
	deadline := time.Now().Add(ql.PhaseTimeout)
	for {
		if time.Now().After(deadline) {
			return ql.terminate(ctx, sessionID, StateExpired, ErrLoginExpired.Error())
		}
		resp, err := ql.postAccountForm(ctx, jar, path, form)
		if err != nil {
			return ql.terminate(ctx, sessionID, StateServerError, err.Error())
		}
		switch resp.ErrorCode {
		case 0:
			return nil
		case qrCodePending:
		case qrCodeDeclined:
			return ql.terminate(ctx, sessionID, StateDeclined, ErrLoginDeclined.Error())
		default:
			message := resp.ErrorMessage
			if message == "" {
				message = ErrLoginExpired.Error()
			}
			return ql.terminate(ctx, sessionID, StateExpired, message)
		}
		select {
		case <-ctx.Done():
			return ql.terminate(ctx, sessionID, StateExpired, ctx.Err().Error())
		case <-time.After(ql.PollInterval):
		}
	}
}

func (ql *QRLogin) terminate(ctx context.Context, sessionID string, state LoginState, message string) *PollResult {
	if err := ql.Sessions.Delete(ctx, sessionID); err != nil {
		ql.Log.Warnf("Failed to delete QR session %s: %v", sessionID, err)
	}
	ql.emit(state, message, nil)
	return &PollResult{State: state, Message: message}
}

func (ql *QRLogin) loadLoginPage(ctx context.Context, jar *types.CookieJar) (string, error) {
	body, err := ql.get(ctx, jar, ql.AccountOrigin+loginPagePath)
	if err != nil {
		return "", fmt.Errorf("failed to load login page: %w", err)
	}
	match := loginVersionRegex.FindStringSubmatch(string(body))
	if match == nil {
		return "", fmt.Errorf("login page layout changed: version script not found")
	}
	return match[1], nil
}

func (ql *QRLogin) checkSession(ctx context.Context, jar *types.CookieJar) error {
	_, err := ql.get(ctx, jar, ql.AccountOrigin+checkSessionPath)
	if err != nil {
		return fmt.Errorf("session check failed: %w", err)
	}
	return nil
}

func (ql *QRLogin) fetchUserInfo(ctx context.Context, jar *types.CookieJar) (name, avatar string, err error) {
	body, err := ql.get(ctx, jar, ql.UserInfoOrigin+userInfoPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch user info: %w", err)
	}
	var parsed struct {
		Data struct {
			Logged bool `json:"logged"`
			Info   struct {
				Name   string `json:"name"`
				Avatar string `json:"avatar"`
			} `json:"info"`
		} `json:"data"`
	}
	if err = json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("bad user info response: %w", err)
	}
	if !parsed.Data.Logged {
		return "", "", fmt.Errorf("server reports the session as not logged in")
	}
	return parsed.Data.Info.Name, parsed.Data.Info.Avatar, nil
}

// fetchLoginInfo performs the encrypted getLoginInfo call and builds the
// account credential from its payload.
func (ql *QRLogin) fetchLoginInfo(ctx context.Context, jar *types.CookieJar) (*store.Account, error) {
	deviceID := uuid.NewString()
	encrypted, err := crypto.EncryptRequestParams(crypto.RequestContext{
		DeviceID:   deviceID,
		Language:   store.DefaultLanguage,
		APIType:    store.DefaultAPIType,
		APIVersion: store.DefaultAPIVersion,
	}, "getlogininfo")
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt login info params: %w", err)
	}

	query := loginQuery(encrypted.Params)
	body, err := ql.get(ctx, jar, ql.LoginAPIOrigin+getLoginInfoPath+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch login info: %w", err)
	}
	var envelope accountResponse
	if err = json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("bad login info envelope: %w", err)
	}
	var blob string
	if err = json.Unmarshal(envelope.Data, &blob); err != nil || blob == "" {
		return nil, &ProtocolError{Code: envelope.ErrorCode, Message: envelope.ErrorMessage}
	}
	decrypted, err := crypto.DecodeLoginResponse(encrypted.EncryptKey, blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt login info: %w", err)
	}
	var payload struct {
		Data struct {
			UID         string `json:"uid"`
			PhoneNumber string `json:"phone_number"`
			SecretKey   string `json:"zpw_enk"`
		} `json:"data"`
	}
	if err = json.Unmarshal([]byte(decrypted), &payload); err != nil {
		return nil, fmt.Errorf("bad login info payload: %w", err)
	}
	if payload.Data.UID == "" || payload.Data.SecretKey == "" {
		return nil, fmt.Errorf("login info payload is missing uid or session key")
	}

	return &store.Account{
		DeviceID:       deviceID,
		UserID:         payload.Data.UID,
		Phone:          normalizePhone(payload.Data.PhoneNumber),
		SecretKey:      payload.Data.SecretKey,
		Cookies:        jar,
		APIType:        store.DefaultAPIType,
		APIVersion:     store.DefaultAPIVersion,
		Language:       store.DefaultLanguage,
		Status:         store.StatusActive,
		LastActivityAt: time.Now(),
	}, nil
}

// FetchServerInfo retrieves the pre-login server settings. Unlike getLoginInfo
// the data field comes back as plain JSON.
func (ql *QRLogin) FetchServerInfo(ctx context.Context) (json.RawMessage, error) {
	encrypted, err := crypto.EncryptRequestParams(crypto.RequestContext{
		DeviceID:   uuid.NewString(),
		Language:   store.DefaultLanguage,
		APIType:    store.DefaultAPIType,
		APIVersion: store.DefaultAPIVersion,
	}, "getserverinfo")
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt server info params: %w", err)
	}

	query := loginQuery(encrypted.Params)
	body, err := ql.get(ctx, types.NewCookieJar(), ql.LoginAPIOrigin+getServerInfoPath+"?"+query.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server info: %w", err)
	}
	var envelope accountResponse
	if err = json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("bad server info envelope: %w", err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, &ProtocolError{Code: envelope.ErrorCode, Message: envelope.ErrorMessage}
	}
	return envelope.Data, nil
}

// loginQuery builds the query string of the login-domain endpoints from the
// encrypted parameter set, skipping empty values.
func loginQuery(params map[string]string) url.Values {
	query := make(url.Values)
	for key, value := range params {
		if value != "" {
			query.Set(key, value)
		}
	}
	query.Set("zpw_ver", strconv.Itoa(store.DefaultAPIVersion))
	query.Set("zpw_type", strconv.Itoa(store.DefaultAPIType))
	return query
}

// normalizePhone converts the international form the server returns (84...)
// to the local form with a leading zero.
func normalizePhone(phone string) string {
	if len(phone) > 2 {
		return "0" + phone[2:]
	}
	return phone
}

// accountForm posts a form to an id.zalo.me endpoint and checks the error
// code, optionally decoding the data field into out.
func (ql *QRLogin) accountForm(ctx context.Context, jar *types.CookieJar, path string, form url.Values, out any) error {
	resp, err := ql.postAccountForm(ctx, jar, path, form)
	if err != nil {
		return err
	}
	if resp.ErrorCode != 0 {
		return &ProtocolError{Code: resp.ErrorCode, Message: resp.ErrorMessage}
	}
	if out != nil {
		if err = json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("bad response data: %w", err)
		}
	}
	return nil
}

func (ql *QRLogin) postAccountForm(ctx context.Context, jar *types.CookieJar, path string, form url.Values) (*accountResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ql.AccountOrigin+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	body, err := ql.do(req, jar)
	if err != nil {
		return nil, err
	}
	var resp accountResponse
	if err = json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("bad response from %s: %w", path, err)
	}
	return &resp, nil
}

func (ql *QRLogin) get(ctx context.Context, jar *types.CookieJar, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, err
	}
	return ql.do(req, jar)
}

func (ql *QRLogin) do(req *http.Request, jar *types.CookieJar) ([]byte, error) {
	req.Header.Set("User-Agent", ql.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "vi-VN,vi;q=0.9")
	req.Header.Set("DNT", "1")
	req.Header.Set("Origin", ql.AccountOrigin)
	req.Header.Set("Referer", ql.AccountOrigin+loginPagePath)
	if header := jar.Header(); header != "" {
		req.Header.Set("Cookie", header)
	}

	resp, err := ql.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	jar.UpdateFromResponse(resp)
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Status: resp.StatusCode, URL: req.URL.Host + req.URL.Path}
	}
	return io.ReadAll(resp.Body)
}

func (ql *QRLogin) emit(state LoginState, message string, data any) {
	if ql.StateCallback == nil {
		return
	}
	defer func() {
		if err := recover(); err != nil {
			ql.Log.Errorf("State callback panicked on %s: %v\n%s", state, err, debug.Stack())
		}
	}()
	ql.StateCallback(StateUpdate{State: state, Message: message, Data: data})
}
