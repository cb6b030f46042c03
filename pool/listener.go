package pool

import (
	"context"
	"errors"
	"net"
	"time"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing-shadowpool/config"
	"github.com/sagernet/sing/common/atomic"
	"github.com/sagernet/sing/common/buf"
	E "github.com/sagernet/sing/common/exceptions"
	"github.com/sagernet/sing/common/logger"
	M "github.com/sagernet/sing/common/metadata"
	N "github.com/sagernet/sing/common/network"
)

// ListenerFactory starts the per-user endpoints. Every connection or
// datagram they accept is decrypted with the user's password and method.
type ListenerFactory interface {
	ListenTCP(ctx context.Context, serverID ServerID, address string, user config.User, method string) (ListenerHandle, error)
	ListenUDP(ctx context.Context, serverID ServerID, address string, user config.User, method string) (ListenerHandle, error)
}

type ServiceListenerOptions struct {
	Handler       C.ServiceHandler
	PacketHandler C.PacketHandler
	Logger        logger.ContextLogger
}

// ServiceListenerFactory binds real sockets and feeds them to a
// cipher.Service created for each user.
type ServiceListenerFactory struct {
	handler       C.ServiceHandler
	packetHandler C.PacketHandler
	logger        logger.ContextLogger
}

func NewServiceListenerFactory(options ServiceListenerOptions) *ServiceListenerFactory {
	factory := &ServiceListenerFactory{
		handler:       options.Handler,
		packetHandler: options.PacketHandler,
		logger:        options.Logger,
	}
	if factory.logger == nil {
		factory.logger = logger.NOP()
	}
	return factory
}

func (f *ServiceListenerFactory) newService(ctx context.Context, user config.User, method string) (C.Service, error) {
	return C.CreateService(ctx, method, C.ServiceOptions{
		Password:      user.Password,
		Handler:       f.handler,
		PacketHandler: f.packetHandler,
	})
}

func (f *ServiceListenerFactory) ListenTCP(ctx context.Context, serverID ServerID, address string, user config.User, method string) (ListenerHandle, error) {
	service, err := f.newService(ctx, user, method)
	if err != nil {
		return nil, err
	}
	var listenConfig net.ListenConfig
	listener, err := listenConfig.Listen(ctx, N.NetworkTCP, address)
	if err != nil {
		return nil, E.Cause(err, "listen tcp ", address)
	}
	tcpListener := &TCPListener{
		serverID: serverID,
		userID:   user.ID,
		listener: listener,
		service:  service,
		logger:   f.logger,
	}
	go tcpListener.loopIn(ctx)
	return tcpListener, nil
}

func (f *ServiceListenerFactory) ListenUDP(ctx context.Context, serverID ServerID, address string, user config.User, method string) (ListenerHandle, error) {
	service, err := f.newService(ctx, user, method)
	if err != nil {
		return nil, err
	}
	var listenConfig net.ListenConfig
	conn, err := listenConfig.ListenPacket(ctx, N.NetworkUDP, address)
	if err != nil {
		return nil, E.Cause(err, "listen udp ", address)
	}
	udpListener := &UDPListener{
		serverID: serverID,
		userID:   user.ID,
		conn:     conn,
		service:  service,
		logger:   f.logger,
	}
	go udpListener.loopIn(ctx)
	return udpListener, nil
}

const (
	minRetryDelay = 5 * time.Millisecond
	maxRetryDelay = time.Second
)

// retryDelay grows the pause after consecutive accept or read errors, the
// way net/http.Server.Serve does. A success resets it.
type retryDelay struct {
	delay time.Duration
}

func (r *retryDelay) next() time.Duration {
	if r.delay == 0 {
		r.delay = minRetryDelay
	} else {
		r.delay *= 2
	}
	if r.delay > maxRetryDelay {
		r.delay = maxRetryDelay
	}
	return r.delay
}

func (r *retryDelay) reset() {
	r.delay = 0
}

type TCPListener struct {
	serverID    ServerID
	userID      string
	listener    net.Listener
	service     C.Service
	logger      logger.ContextLogger
	connections atomic.Int32
}

func (l *TCPListener) ServerID() ServerID {
	return l.serverID
}

func (l *TCPListener) Addr() net.Addr {
	return l.listener.Addr()
}

// Connections returns the number of connections being served.
func (l *TCPListener) Connections() int32 {
	return l.connections.Load()
}

func (l *TCPListener) Close() error {
	return l.listener.Close()
}

// loopIn serves until the listener is closed. Other accept errors, such as
// running out of file descriptors, are retried after a growing delay.
func (l *TCPListener) loopIn(ctx context.Context) {
	var retry retryDelay
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			delay := retry.next()
			l.logger.WarnContext(ctx, "user ", l.userID, ": accept ", l.serverID, ": ", err, ", retrying in ", delay)
			time.Sleep(delay)
			continue
		}
		retry.reset()
		go l.newConnection(ctx, conn)
	}
}

func (l *TCPListener) newConnection(ctx context.Context, conn net.Conn) {
	l.connections.Add(1)
	defer l.connections.Add(-1)
	defer conn.Close()
	err := l.service.NewConnection(ctx, conn, M.Metadata{
		Source: M.SocksaddrFromNet(conn.RemoteAddr()),
	})
	if err != nil {
		l.logger.DebugContext(ctx, "user ", l.userID, ": connection from ", conn.RemoteAddr(), ": ", err)
	}
}

type UDPListener struct {
	serverID ServerID
	userID   string
	conn     net.PacketConn
	service  C.Service
	logger   logger.ContextLogger
}

func (l *UDPListener) ServerID() ServerID {
	return l.serverID
}

func (l *UDPListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

func (l *UDPListener) Close() error {
	return l.conn.Close()
}

func (l *UDPListener) loopIn(ctx context.Context) {
	var retry retryDelay
	for {
		buffer := buf.NewPacket()
		n, addr, err := l.conn.ReadFrom(buffer.FreeBytes())
		if err != nil {
			buffer.Release()
			if errors.Is(err, net.ErrClosed) {
				return
			}
			delay := retry.next()
			l.logger.WarnContext(ctx, "user ", l.userID, ": read ", l.serverID, ": ", err, ", retrying in ", delay)
			time.Sleep(delay)
			continue
		}
		retry.reset()
		buffer.Truncate(n)
		go l.newPacket(ctx, buffer, addr)
	}
}

func (l *UDPListener) newPacket(ctx context.Context, buffer *buf.Buffer, addr net.Addr) {
	defer buffer.Release()
	err := l.service.NewPacket(ctx, l.conn, buffer.Bytes(), M.Metadata{
		Source: M.SocksaddrFromNet(addr),
	})
	if err != nil {
		l.logger.DebugContext(ctx, "user ", l.userID, ": packet from ", addr, ": ", err)
	}
}
