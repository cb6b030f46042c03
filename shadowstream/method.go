package shadowstream

import (
	"context"
	"crypto/rand"
	"net"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing-shadowpool/internal/shadowio"
	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/buf"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sagernet/sing/common/rw"
)

type Method struct {
	suite    *Suite
	password string
}

func NewMethod(ctx context.Context, methodName string, options C.MethodOptions) (C.Method, error) {
	suite, err := LookupSuite(methodName)
	if err != nil {
		return nil, err
	}
	if options.Password == "" {
		return nil, C.ErrMissingPassword
	}
	return &Method{
		suite:    suite,
		password: options.Password,
	}, nil
}

func (m *Method) DialConn(conn net.Conn, destination M.Socksaddr) (net.Conn, error) {
	shadowsocksConn := m.newConn(conn, destination)
	err := shadowsocksConn.writeRequest(nil)
	if err != nil {
		shadowsocksConn.codec.Close()
		return nil, err
	}
	return shadowsocksConn, nil
}

func (m *Method) DialEarlyConn(conn net.Conn, destination M.Socksaddr) net.Conn {
	return m.newConn(conn, destination)
}

func (m *Method) DialPacketConn(conn net.Conn) net.PacketConn {
	return &clientPacketConn{
		Conn:   conn,
		method: m,
	}
}

func (m *Method) newConn(conn net.Conn, destination M.Socksaddr) *clientConn {
	codec := newCodec(m.suite, m.password, rand.Reader)
	return &clientConn{
		Conn:        conn,
		codec:       codec,
		destination: destination,
		reader:      shadowio.NewReader(conn, codec),
	}
}

type clientConn struct {
	net.Conn
	codec       *Codec
	destination M.Socksaddr
	reader      *shadowio.Reader
	writer      *shadowio.Writer
}

func (c *clientConn) writeRequest(payload []byte) error {
	requestBuffer := buf.NewSize(M.SocksaddrSerializer.AddrPortLen(c.destination) + len(payload))
	defer requestBuffer.Release()
	common.Must(M.SocksaddrSerializer.WriteAddrPort(requestBuffer, c.destination))
	common.Must1(requestBuffer.Write(payload))
	writer := shadowio.NewWriter(c.Conn, c.codec)
	_, err := writer.Write(requestBuffer.Bytes())
	if err != nil {
		return err
	}
	c.writer = writer
	return nil
}

func (c *clientConn) Read(p []byte) (n int, err error) {
	return c.reader.Read(p)
}

func (c *clientConn) Write(p []byte) (n int, err error) {
	if c.writer == nil {
		err = c.writeRequest(p)
		if err == nil {
			n = len(p)
		}
		return
	}
	return c.writer.Write(p)
}

func (c *clientConn) NeedHandshake() bool {
	return c.writer == nil
}

func (c *clientConn) Upstream() any {
	return c.Conn
}

func (c *clientConn) CloseWrite() error {
	return rw.CloseWrite(c.Conn)
}

func (c *clientConn) Close() error {
	return common.Close(
		c.Conn,
		c.codec,
	)
}

type clientPacketConn struct {
	net.Conn
	method *Method
}

func (c *clientPacketConn) WriteTo(p []byte, addr net.Addr) (n int, err error) {
	packet, err := packPacket(c.method.suite, c.method.password, M.SocksaddrFromNet(addr), p)
	if err != nil {
		return
	}
	_, err = c.Conn.Write(packet)
	if err != nil {
		return
	}
	return len(p), nil
}

func (c *clientPacketConn) ReadFrom(p []byte) (n int, addr net.Addr, err error) {
	buffer := buf.NewPacket()
	defer buffer.Release()
	n, err = c.Conn.Read(buffer.FreeBytes())
	if err != nil {
		return
	}
	source, payload, err := unpackPacket(c.method.suite, c.method.password, buffer.To(n))
	if err != nil {
		return 0, nil, err
	}
	n = copy(p, payload)
	addr = source.UDPAddr()
	return
}

func (c *clientPacketConn) Upstream() any {
	return c.Conn
}
