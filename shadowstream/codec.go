package shadowstream

import (
	"crypto/cipher"
	"crypto/rand"
	"io"
	"sync"

	C "github.com/sagernet/sing-shadowpool/cipher"
	E "github.com/sagernet/sing/common/exceptions"
)

var ErrCodecClosed = E.New("stream codec closed")

// Codec is the per-connection encrypt/decrypt state. The first Encrypt emits
// a random IV ahead of the ciphertext, the first Decrypt consumes one, and
// both keystreams then run across call boundaries.
//
// The two directions are independent and may be driven from different
// goroutines. Calls within one direction must come in stream order.
type Codec struct {
	suite   *Suite
	key     []byte
	random  io.Reader
	encrypt direction
	decrypt direction
}

type direction struct {
	access sync.Mutex
	iv     []byte
	stream cipher.Stream
	closed bool
}

func NewCodec(method string, password string) (*Codec, error) {
	return NewCodecWithRandom(method, password, rand.Reader)
}

// NewCodecWithRandom is NewCodec with the IV source replaced.
func NewCodecWithRandom(method string, password string, random io.Reader) (*Codec, error) {
	suite, err := LookupSuite(method)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, C.ErrMissingPassword
	}
	return newCodec(suite, password, random), nil
}

func newCodec(suite *Suite, password string, random io.Reader) *Codec {
	return &Codec{
		suite:  suite,
		key:    C.Key([]byte(password), suite.KeySize),
		random: random,
	}
}

func (c *Codec) Suite() *Suite {
	return c.suite
}

func (c *Codec) IVSize() int {
	return c.suite.IVSize
}

func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	d := &c.encrypt
	d.access.Lock()
	defer d.access.Unlock()
	if d.closed {
		return nil, ErrCodecClosed
	}
	if d.stream == nil {
		iv := make([]byte, c.suite.IVSize)
		_, err := io.ReadFull(c.random, iv)
		if err != nil {
			return nil, E.Cause(err, "generate iv")
		}
		stream, err := c.suite.Encrypter(c.key, iv)
		if err != nil {
			return nil, err
		}
		d.iv = iv
		d.stream = stream
		ciphertext := make([]byte, len(iv)+len(plaintext))
		copy(ciphertext, iv)
		stream.XORKeyStream(ciphertext[len(iv):], plaintext)
		return ciphertext, nil
	}
	ciphertext := make([]byte, len(plaintext))
	d.stream.XORKeyStream(ciphertext, plaintext)
	return ciphertext, nil
}

func (c *Codec) Decrypt(ciphertext []byte) ([]byte, error) {
	d := &c.decrypt
	d.access.Lock()
	defer d.access.Unlock()
	if d.closed {
		return nil, ErrCodecClosed
	}
	if d.stream == nil {
		ivSize := c.suite.IVSize
		if len(ciphertext) < ivSize {
			return nil, E.Extend(C.ErrTruncatedHeader, "need ", ivSize, " bytes, got ", len(ciphertext))
		}
		iv := make([]byte, ivSize)
		copy(iv, ciphertext[:ivSize])
		stream, err := c.suite.Decrypter(c.key, iv)
		if err != nil {
			return nil, err
		}
		d.iv = iv
		d.stream = stream
		ciphertext = ciphertext[ivSize:]
	}
	plaintext := make([]byte, len(ciphertext))
	d.stream.XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// EncryptIV returns the IV sent with the first packet, or nil before it.
func (c *Codec) EncryptIV() []byte {
	return c.encrypt.currentIV()
}

// DecryptIV returns the IV taken from the first received packet, or nil
// before it.
func (c *Codec) DecryptIV() []byte {
	return c.decrypt.currentIV()
}

// Close drops both cipher streams and wipes the key and IVs. It is safe to
// call more than once; later Encrypt and Decrypt calls fail.
func (c *Codec) Close() error {
	c.encrypt.release()
	c.decrypt.release()
	c.encrypt.access.Lock()
	c.decrypt.access.Lock()
	clear(c.key)
	c.decrypt.access.Unlock()
	c.encrypt.access.Unlock()
	return nil
}

func (d *direction) currentIV() []byte {
	d.access.Lock()
	defer d.access.Unlock()
	if d.iv == nil {
		return nil
	}
	iv := make([]byte, len(d.iv))
	copy(iv, d.iv)
	return iv
}

func (d *direction) release() {
	d.access.Lock()
	defer d.access.Unlock()
	d.closed = true
	d.stream = nil
	clear(d.iv)
	d.iv = nil
}
