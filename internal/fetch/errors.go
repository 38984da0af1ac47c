package fetch

import (
	"fmt"
	"net/http"
)

// silentStatus reports whether an HTTP status means "this source does not
// carry this data": not an error, no retries, the caller moves on.
func silentStatus(code int) bool {
	return code == http.StatusNotFound || code == http.StatusForbidden
}

// httpError is a non-silent HTTP status failure.
type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("http %d", e.code)
}
