//go:build linux

package main

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

var errPeerCredUnsupported = errors.New("peer credentials unsupported")

// peerUID reads SO_PEERCRED from the connected socket.
func peerUID(conn *net.UnixConn) (int, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return 0, err
	}

	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return 0, err
	}
	if credErr != nil {
		return 0, credErr
	}
	return int(cred.Uid), nil
}
