package transport

import "errors"

// errClosed is returned by Adapter methods once Close has been called.
var errClosed = errors.New("transport: adapter closed")
