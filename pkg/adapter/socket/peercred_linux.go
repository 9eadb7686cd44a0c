//go:build linux

package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

type peerInfo struct {
	known         bool
	pid, uid, gid int32
}

func (p peerInfo) String() string {
	if !p.known {
		return "unknown peer"
	}
	return fmt.Sprintf("pid=%d uid=%d gid=%d", p.pid, p.uid, p.gid)
}

// peerCredentials reads SO_PEERCRED from a unix connection.
func peerCredentials(conn net.Conn) peerInfo {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return peerInfo{}
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return peerInfo{}
	}

	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return peerInfo{}
	}

	return peerInfo{known: true, pid: cred.Pid, uid: int32(cred.Uid), gid: int32(cred.Gid)}
}
