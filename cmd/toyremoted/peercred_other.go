//go:build !linux

package main

import (
	"errors"
	"net"
)

var errPeerCredUnsupported = errors.New("peer credentials unsupported")

func peerUID(*net.UnixConn) (int, error) {
	return 0, errPeerCredUnsupported
}
