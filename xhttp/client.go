// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package xhttp

import "net/http"

// Client is the narrow surface turn.Client.HTTPClient depends on, rather
// than the concrete *http.Client — so a retrying transport like
// retryingHTTPClient in cmd/relay/main.go can stand in without an adapter.
type Client interface {
	Do(*http.Request) (*http.Response, error)
}

var _ Client = (*http.Client)(nil)
