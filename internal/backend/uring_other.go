//go:build !linux

package backend

import (
	"github.com/edgecache/edgecache/pkg/errors"
)

// newURingBackend always reports unavailability off Linux, which routes
// construction to the portable implementation.
func newURingBackend(cfg Config) (Backend, error) {
	return nil, errors.NewError(errors.ErrCodeBackendUnavailable,
		"io_uring backend requires linux")
}
