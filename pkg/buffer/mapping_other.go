//go:build !linux

package buffer

import "fmt"

type sharedRegion struct{}

func newSharedRegion(name string, size int) (*sharedRegion, error) {
	return nil, fmt.Errorf("shared memory backing is not supported on this platform")
}

func (r *sharedRegion) bytes() []byte { return nil }
func (r *sharedRegion) Fd() int       { return -1 }
func (r *sharedRegion) close() error  { return nil }
