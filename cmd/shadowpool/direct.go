package main

import (
	"context"
	"net"
	"time"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing-shadowpool/internal/logging"
	"github.com/sagernet/sing/common/buf"
	"github.com/sagernet/sing/common/bufio"
	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"
)

const udpTimeout = 5 * time.Second

var (
	_ C.ServiceHandler = (*directHandler)(nil)
	_ C.PacketHandler  = (*directHandler)(nil)
)

// directHandler connects every decrypted request straight to its destination.
type directHandler struct {
	logger *logging.Logger
}

func (h *directHandler) NewConnection(ctx context.Context, conn net.Conn, metadata M.Metadata) error {
	h.logger.DebugContext(ctx, "tcp ", metadata.Source, " -> ", metadata.Destination)
	outConn, err := N.SystemDialer.DialContext(ctx, N.NetworkTCP, metadata.Destination)
	if err != nil {
		return E.Cause(err, "dial ", metadata.Destination)
	}
	defer outConn.Close()
	return bufio.CopyConn(ctx, conn, outConn)
}

// NewPacket forwards one datagram and relays back the first response.
func (h *directHandler) NewPacket(ctx context.Context, writer C.PacketWriter, payload []byte, metadata M.Metadata) error {
	h.logger.TraceContext(ctx, "udp ", metadata.Source, " -> ", metadata.Destination)
	outConn, err := N.SystemDialer.DialContext(ctx, N.NetworkUDP, metadata.Destination)
	if err != nil {
		return E.Cause(err, "dial ", metadata.Destination)
	}
	defer outConn.Close()
	_, err = outConn.Write(payload)
	if err != nil {
		return err
	}
	outConn.SetReadDeadline(time.Now().Add(udpTimeout))
	buffer := buf.NewPacket()
	defer buffer.Release()
	n, err := outConn.Read(buffer.FreeBytes())
	if err != nil {
		return err
	}
	return writer.WritePacket(buffer.To(n), metadata.Destination)
}
