// Copyright (c) 2025 Tulir Asokan
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package types contains various structs and other types used by zalogo.
package types

import (
	"net/http"
	"strings"
	"time"
)

// Cookie is a single browser cookie with the metadata the Zalo web servers set.
type Cookie struct {
	Name    string     `json:"name"`
	Value   string     `json:"value"`
	Domain  string     `json:"domain,omitempty"`
	Path    string     `json:"path,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
	Secure  bool       `json:"secure,omitempty"`
}

// CookieJar is an ordered collection of cookies for one account session.
//
// The Zalo servers rotate session cookies on most responses, so the jar is
// mutated in place by UpdateFromResponse. Callers that share a jar across
// goroutines must serialize access themselves (the Client does this with a
// per-account mutex).
type CookieJar struct {
	Cookies []Cookie `json:"cookies"`
}

// NewCookieJar creates an empty cookie jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{}
}

// ParseCookieHeader creates a jar from a serialized Cookie header value
// (semicolon-separated name=value pairs).
func ParseCookieHeader(header string) *CookieJar {
	jar := NewCookieJar()
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		jar.Set(Cookie{Name: name, Value: value})
	}
	return jar
}

// Get returns the value of the named cookie, or an empty string if it's not in the jar.
func (jar *CookieJar) Get(name string) string {
	for _, c := range jar.Cookies {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// Set adds a cookie to the jar, replacing any existing cookie with the same name.
// Insertion order is preserved for cookies that aren't replaced.
func (jar *CookieJar) Set(cookie Cookie) {
	for i, c := range jar.Cookies {
		if c.Name == cookie.Name {
			jar.Cookies[i] = cookie
			return
		}
	}
	jar.Cookies = append(jar.Cookies, cookie)
}

// Delete removes the named cookie from the jar.
func (jar *CookieJar) Delete(name string) {
	for i, c := range jar.Cookies {
		if c.Name == name {
			jar.Cookies = append(jar.Cookies[:i], jar.Cookies[i+1:]...)
			return
		}
	}
}

// Header serializes the jar into a Cookie request header value, skipping
// cookies that have expired.
func (jar *CookieJar) Header() string {
	var sb strings.Builder
	now := time.Now()
	for _, c := range jar.Cookies {
		if c.Expires != nil && c.Expires.Before(now) {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(c.Name)
		sb.WriteByte('=')
		sb.WriteString(c.Value)
	}
	return sb.String()
}

// UpdateFromResponse applies the Set-Cookie headers of a response to the jar.
func (jar *CookieJar) UpdateFromResponse(resp *http.Response) {
	for _, sc := range resp.Cookies() {
		cookie := Cookie{
			Name:   sc.Name,
			Value:  sc.Value,
			Domain: sc.Domain,
			Path:   sc.Path,
			Secure: sc.Secure,
		}
		if !sc.Expires.IsZero() {
			exp := sc.Expires
			cookie.Expires = &exp
		}
		if sc.MaxAge < 0 || (!sc.Expires.IsZero() && sc.Expires.Before(time.Now())) {
			jar.Delete(sc.Name)
			continue
		}
		jar.Set(cookie)
	}
}

// Clone returns a deep copy of the jar.
func (jar *CookieJar) Clone() *CookieJar {
	clone := &CookieJar{Cookies: make([]Cookie, len(jar.Cookies))}
	copy(clone.Cookies, jar.Cookies)
	return clone
}

// IsEmpty returns true if the jar has no cookies.
func (jar *CookieJar) IsEmpty() bool {
	return jar == nil || len(jar.Cookies) == 0
}
