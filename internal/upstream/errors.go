package upstream

import (
	"errors"
	"fmt"
)

// StatusError reports a reachable upstream that answered with a non-2xx
// status. Callers use it to tell "service said no" from "service unreachable".
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
}

// IsStatusError reports whether err wraps a *StatusError.
func IsStatusError(err error) bool {
	var se *StatusError
	return errors.As(err, &se)
}

// CheckStatus converts a non-2xx response into a *StatusError.
func (c *Client) CheckStatus(resp *Response) error {
	if resp.OK() {
		return nil
	}
	body := string(resp.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	return &StatusError{Service: c.name, StatusCode: resp.StatusCode, Body: body}
}
