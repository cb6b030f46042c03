package shadowstream

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"os"
	"time"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing-shadowpool/internal/shadowio"
	"github.com/sagernet/sing/common"
	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sagernet/sing/common/replay"
	"github.com/sagernet/sing/common/rw"
)

type Service struct {
	suite         *Suite
	password      string
	handler       C.ServiceHandler
	packetHandler C.PacketHandler
	replayFilter  replay.Filter
	connCodec     func() *Codec
}

func NewService(ctx context.Context, methodName string, options C.ServiceOptions) (C.Service, error) {
	suite, err := LookupSuite(methodName)
	if err != nil {
		return nil, err
	}
	if options.Password == "" {
		return nil, C.ErrMissingPassword
	}
	if options.Handler == nil {
		return nil, os.ErrInvalid
	}
	password := options.Password
	return &Service{
		suite:         suite,
		password:      password,
		handler:       options.Handler,
		packetHandler: options.PacketHandler,
		replayFilter:  replay.NewSimple(60 * time.Second),
		connCodec: func() *Codec {
			return newCodec(suite, password, rand.Reader)
		},
	}, nil
}

func (s *Service) NewConnection(ctx context.Context, conn net.Conn, metadata M.Metadata) error {
	codec := s.connCodec()
	defer codec.Close()
	protocolConn := &serverConn{
		Conn:   conn,
		codec:  codec,
		reader: shadowio.NewReader(conn, codec),
		writer: shadowio.NewWriter(conn, codec),
	}
	destination, err := M.SocksaddrSerializer.ReadAddrPort(protocolConn.reader)
	if err != nil {
		if isTransportError(err) {
			return E.Cause(err, "read destination")
		}
		return E.Extend(C.ErrMalformedCiphertext, "read destination: ", err)
	}
	if !s.replayFilter.Check(codec.DecryptIV()) {
		return C.ErrIVNotUnique
	}
	metadata.Protocol = "shadowsocks"
	metadata.Destination = destination
	return s.handler.NewConnection(ctx, protocolConn, metadata)
}

func (s *Service) NewPacket(ctx context.Context, conn net.PacketConn, packet []byte, metadata M.Metadata) error {
	if s.packetHandler == nil {
		return E.Cause(os.ErrInvalid, "packet handler not configured")
	}
	destination, payload, err := unpackPacket(s.suite, s.password, packet)
	if err != nil {
		return err
	}
	metadata.Protocol = "shadowsocks"
	metadata.Destination = destination
	return s.packetHandler.NewPacket(ctx, &packetWriter{
		service: s,
		conn:    conn,
		client:  metadata.Source,
	}, payload, metadata)
}

func isTransportError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

type serverConn struct {
	net.Conn
	codec  *Codec
	reader *shadowio.Reader
	writer *shadowio.Writer
}

func (c *serverConn) Read(p []byte) (n int, err error) {
	return c.reader.Read(p)
}

func (c *serverConn) Write(p []byte) (n int, err error) {
	return c.writer.Write(p)
}

func (c *serverConn) Upstream() any {
	return c.Conn
}

func (c *serverConn) CloseWrite() error {
	return rw.CloseWrite(c.Conn)
}

func (c *serverConn) Close() error {
	return common.Close(
		c.Conn,
		c.codec,
	)
}

type packetWriter struct {
	service *Service
	conn    net.PacketConn
	client  M.Socksaddr
}

func (w *packetWriter) WritePacket(payload []byte, source M.Socksaddr) error {
	packet, err := packPacket(w.service.suite, w.service.password, source, payload)
	if err != nil {
		return err
	}
	return common.Error(w.conn.WriteTo(packet, w.client.UDPAddr()))
}
