// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package xhttp

import (
	"fmt"
	"net/url"
)

// ApplyURLParser runs parser, such as url.Parse or url.ParseRequestURI,
// over zero or more strings, returning a slice in the same order. The
// first parse failure halts the remaining values — used by config.New to
// reject a malformed TURNProviderURL at startup rather than at the first
// webrtc_request.
func ApplyURLParser(parser func(string) (*url.URL, error), values ...string) ([]*url.URL, error) {
	urls := make([]*url.URL, len(values))
	for i, v := range values {
		u, err := parser(v)
		if err != nil {
			return nil, fmt.Errorf("unable to parse URL %q: %w", v, err)
		}

		urls[i] = u
	}

	return urls, nil
}
