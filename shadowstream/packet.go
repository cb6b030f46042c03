package shadowstream

import (
	"bytes"
	"crypto/rand"
	"errors"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/buf"
	E "github.com/sagernet/sing/common/exceptions"
	M "github.com/sagernet/sing/common/metadata"
)

// Every datagram is sealed by its own codec:
//
//	IV || E(socks address || payload)

func packPacket(suite *Suite, password string, address M.Socksaddr, payload []byte) ([]byte, error) {
	codec := newCodec(suite, password, rand.Reader)
	defer codec.Close()
	plaintext := buf.NewSize(M.SocksaddrSerializer.AddrPortLen(address) + len(payload))
	defer plaintext.Release()
	common.Must(M.SocksaddrSerializer.WriteAddrPort(plaintext, address))
	common.Must1(plaintext.Write(payload))
	return codec.Encrypt(plaintext.Bytes())
}

func unpackPacket(suite *Suite, password string, packet []byte) (M.Socksaddr, []byte, error) {
	codec := newCodec(suite, password, rand.Reader)
	defer codec.Close()
	plaintext, err := codec.Decrypt(packet)
	if errors.Is(err, C.ErrTruncatedHeader) {
		return M.Socksaddr{}, nil, E.Extend(C.ErrMalformedCiphertext, "packet too short: ", len(packet))
	} else if err != nil {
		return M.Socksaddr{}, nil, err
	}
	reader := bytes.NewReader(plaintext)
	address, err := M.SocksaddrSerializer.ReadAddrPort(reader)
	if err != nil {
		return M.Socksaddr{}, nil, E.Extend(C.ErrMalformedCiphertext, "read address: ", err)
	}
	return address, plaintext[len(plaintext)-reader.Len():], nil
}
