package shadowstream

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	C "github.com/sagernet/sing-shadowpool/cipher"
	M "github.com/sagernet/sing/common/metadata"
)

var errUpstreamRefused = errors.New("upstream refused")

// retainingHandler keeps every connection it is given.
type retainingHandler struct {
	access sync.Mutex
	conns  []net.Conn
	err    error
}

func (h *retainingHandler) NewConnection(ctx context.Context, conn net.Conn, metadata M.Metadata) error {
	h.access.Lock()
	h.conns = append(h.conns, conn)
	h.access.Unlock()
	return h.err
}

func (h *retainingHandler) reset() {
	h.access.Lock()
	defer h.access.Unlock()
	h.conns = nil
}

func (h *retainingHandler) last() net.Conn {
	h.access.Lock()
	defer h.access.Unlock()
	if len(h.conns) == 0 {
		return nil
	}
	return h.conns[len(h.conns)-1]
}

// trackCodecs records every codec the service creates for a connection.
func trackCodecs(service *Service) func() *Codec {
	var (
		access sync.Mutex
		codecs []*Codec
	)
	create := service.connCodec
	service.connCodec = func() *Codec {
		codec := create()
		access.Lock()
		codecs = append(codecs, codec)
		access.Unlock()
		return codec
	}
	return func() *Codec {
		access.Lock()
		defer access.Unlock()
		if len(codecs) == 0 {
			return nil
		}
		return codecs[len(codecs)-1]
	}
}

func requestPacket(t *testing.T, suite *Suite, password string, address []byte) []byte {
	t.Helper()
	codec := newCodec(suite, password, rand.Reader)
	defer codec.Close()
	packet, err := codec.Encrypt(append(append([]byte(nil), address...), "payload"...))
	if err != nil {
		t.Fatal(err)
	}
	return packet
}

func serveOnce(service *Service, packet []byte) error {
	clientPipe, serverPipe := net.Pipe()
	go func() {
		clientPipe.Write(packet)
		clientPipe.Close()
	}()
	err := service.NewConnection(context.Background(), serverPipe, M.Metadata{})
	serverPipe.Close()
	return err
}

func TestConnectionReleasesCodec(t *testing.T) {
	suite, err := LookupSuite("aes-256-cfb")
	if err != nil {
		t.Fatal(err)
	}
	validAddress := []byte{0x01, 10, 0, 0, 1, 0x00, 0x50}
	replayed := requestPacket(t, suite, "release", validAddress)

	tests := []struct {
		name       string
		handlerErr error
		packets    [][]byte
		wantErr    error
		retained   bool
	}{
		{
			name:     "handler returns",
			packets:  [][]byte{requestPacket(t, suite, "release", validAddress)},
			retained: true,
		},
		{
			name:       "handler error",
			handlerErr: errUpstreamRefused,
			packets:    [][]byte{requestPacket(t, suite, "release", validAddress)},
			wantErr:    errUpstreamRefused,
			retained:   true,
		},
		{
			name:    "replayed iv",
			packets: [][]byte{replayed, replayed},
			wantErr: C.ErrIVNotUnique,
		},
		{
			name:    "malformed destination",
			packets: [][]byte{requestPacket(t, suite, "release", []byte{0x09, 1, 2})},
			wantErr: C.ErrMalformedCiphertext,
		},
		{
			name:    "truncated header",
			packets: [][]byte{replayed[:IVLength-1]},
			wantErr: io.ErrUnexpectedEOF,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &retainingHandler{err: tt.handlerErr}
			created, err := NewService(context.Background(), "aes-256-cfb", C.ServiceOptions{
				Password: "release",
				Handler:  handler,
			})
			if err != nil {
				t.Fatal(err)
			}
			service := created.(*Service)
			lastCodec := trackCodecs(service)

			for i, packet := range tt.packets {
				if i == len(tt.packets)-1 {
					handler.reset()
				}
				err = serveOnce(service, packet)
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("NewConnection: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("NewConnection = %v, want %v", err, tt.wantErr)
			}

			codec := lastCodec()
			if codec == nil {
				t.Fatal("no codec created")
			}
			if _, err = codec.Encrypt([]byte("late")); !errors.Is(err, ErrCodecClosed) {
				t.Fatalf("codec still usable after NewConnection returned: %v", err)
			}
			if codec.DecryptIV() != nil {
				t.Fatal("iv kept after NewConnection returned")
			}

			conn := handler.last()
			if tt.retained != (conn != nil) {
				t.Fatalf("handler called = %v, want %v", conn != nil, tt.retained)
			}
			if conn != nil {
				if _, err = conn.Write([]byte("late")); !errors.Is(err, ErrCodecClosed) {
					t.Fatalf("retained conn Write = %v", err)
				}
			}
		})
	}
}
