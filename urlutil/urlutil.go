/*
 * MIT License
 *
 * Copyright (c) 2021 Eduardo Ramos
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package urlutil holds the handful of URL/path helpers the server needs:
// percent encode/decode (thin wrappers over net/url, kept here so callers
// never import net/url directly for this) and a path-prefix match that is
// invariant to leading/trailing slashes on either side, used for API
// name/version enforcement.
package urlutil

import (
	"net/url"
	"strings"
)

// Encode percent-encodes s as a URL path segment.
func Encode(s string) string {
	return url.PathEscape(s)
}

// Decode percent-decodes s as a URL path segment. On malformed input it
// returns s unchanged rather than an error; callers compare paths, they
// don't act on decode failures.
func Decode(s string) string {
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}

// MatchPrefix reports whether path starts with prefix once both arguments
// are normalized by trimming leading/trailing slashes, so "/app/v1",
// "app/v1/", and "app/v1" all match a path of "/app/v1/items".
func MatchPrefix(path, prefix string) bool {
	p := strings.Trim(path, "/")
	pre := strings.Trim(prefix, "/")
	if pre == "" {
		return true
	}
	if p == pre {
		return true
	}
	return strings.HasPrefix(p, pre+"/")
}

// JoinAPIPath builds the "/<api_name>/<api_version>" prefix used for API
// path enforcement, normalizing either part's surrounding slashes.
func JoinAPIPath(apiName, apiVersion string) string {
	n := strings.Trim(apiName, "/")
	v := strings.Trim(apiVersion, "/")
	if n == "" && v == "" {
		return ""
	}
	if v == "" {
		return "/" + n
	}
	return "/" + n + "/" + v
}
