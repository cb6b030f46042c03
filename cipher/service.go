package cipher

import (
	"context"
	"net"

	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"
)

// Service is the server side of a method. NewConnection blocks until the
// connection is done; the per-connection codec is released before it returns.
type Service interface {
	N.TCPConnectionHandler
	NewPacket(ctx context.Context, conn net.PacketConn, packet []byte, metadata M.Metadata) error
}

// ServiceHandler receives the decrypted connection and its destination.
// It owns the relay and must return only once it is done with conn.
type ServiceHandler interface {
	N.TCPConnectionHandler
}

type PacketHandler interface {
	NewPacket(ctx context.Context, writer PacketWriter, payload []byte, metadata M.Metadata) error
}

// PacketWriter sends a response datagram back to the client, tagged with the
// address it came from.
type PacketWriter interface {
	WritePacket(payload []byte, source M.Socksaddr) error
}

type ServiceOptions struct {
	Password      string
	Handler       ServiceHandler
	PacketHandler PacketHandler
}

type ServiceCreator func(ctx context.Context, methodName string, options ServiceOptions) (Service, error)
