// Package shadowsocks is the client and server library behind shadowpool:
// AES-CFB stream methods looked up by name, plus the per-connection codec
// they are built on.
package shadowsocks

import (
	"context"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing-shadowpool/shadowstream"
)

type (
	Method         = C.Method
	MethodOptions  = C.MethodOptions
	Service        = C.Service
	ServiceOptions = C.ServiceOptions
	ServiceHandler = C.ServiceHandler
	PacketHandler  = C.PacketHandler
	PacketWriter   = C.PacketWriter
	Codec          = shadowstream.Codec
)

func CreateMethod(ctx context.Context, method string, options MethodOptions) (Method, error) {
	return C.CreateMethod(ctx, method, options)
}

func CreateService(ctx context.Context, method string, options ServiceOptions) (Service, error) {
	return C.CreateService(ctx, method, options)
}

// NewCodec returns a fresh codec for one connection using the named method.
func NewCodec(method string, password string) (*Codec, error) {
	return shadowstream.NewCodec(method, password)
}

func MethodNames() []string {
	return C.MethodNames()
}
