//go:build !unix

package ringbuffer

import "github.com/tphakala/signalgraph/internal/errors"

func mlock([]byte) error {
	return errors.NewStd("memory locking is not supported on this platform")
}

func munlock([]byte) error {
	return nil
}
