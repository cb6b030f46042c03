package cipher

import (
	"context"
	"net"

	M "github.com/sagernet/sing/common/metadata"
)

type Method interface {
	DialConn(conn net.Conn, destination M.Socksaddr) (net.Conn, error)
	DialEarlyConn(conn net.Conn, destination M.Socksaddr) net.Conn
	DialPacketConn(conn net.Conn) net.PacketConn
}

type MethodOptions struct {
	Password string
}

type MethodCreator func(ctx context.Context, methodName string, options MethodOptions) (Method, error)
