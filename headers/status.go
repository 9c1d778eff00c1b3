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

package headers

// StatusError pairs an HTTP status code with a short machine-readable
// cause, rendered as the request's error body: {"cause":"<Cause>"}.
// An empty Cause (WrongURI) renders the empty object "{}".
type StatusError struct {
	Status int
	Cause  string
}

var (
	WrongURI               = StatusError{404, ""}
	WrongAPINameOrVersion  = StatusError{400, "INVALID_API"}
	SystemFailure          = StatusError{500, "SYSTEM_FAILURE"}
	IncorrectLength        = StatusError{411, "INCORRECT_LENGTH"}
	UnsupportedMediaType   = StatusError{415, "UNSUPPORTED_MEDIA_TYPE"}
	MethodNotAllowed       = StatusError{405, "METHOD_NOT_ALLOWED"}
	MethodNotImplemented   = StatusError{501, "METHOD_NOT_IMPLEMENTED"}
	ServiceUnavailable     = StatusError{503, "SERVICE_UNAVAILABLE"}
)

// Body renders the standardized error body for this StatusError: "{}"
// when Cause is empty (WrongURI), else {"cause":"<Cause>"}.
func (s StatusError) Body() string {
	if s.Cause == "" {
		return "{}"
	}
	return `{"cause":"` + s.Cause + `"}`
}

// ContentType is the media type used for a non-empty StatusError body.
const ContentType = "application/problem+json"
