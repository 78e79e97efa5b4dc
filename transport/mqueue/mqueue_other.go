//go:build !linux

// Package mqueue implements the transport over POSIX message queues.
// Only Linux is supported.
package mqueue

import (
	"errors"

	"github.com/RoanBrand/psmq/transport"
)

type Transport struct {
	Mode uint32
}

func New() *Transport {
	return &Transport{Mode: 0o600}
}

func (t *Transport) Create(string, int, int) (transport.Channel, error) {
	return nil, errors.ErrUnsupported
}

func (t *Transport) Open(string) (transport.Channel, error) {
	return nil, errors.ErrUnsupported
}

func (t *Transport) Destroy(string) error {
	return errors.ErrUnsupported
}
