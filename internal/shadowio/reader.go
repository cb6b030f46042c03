package shadowio

import (
	"errors"
	"io"

	C "github.com/sagernet/sing-shadowpool/cipher"
	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/buf"
)

type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Reader decrypts a byte stream read from upstream. Bytes that arrive before
// the decrypter has a complete header are held back and retried together
// with the next read.
type Reader struct {
	reader    io.Reader
	decrypter Decrypter
	pending   []byte
	cache     *buf.Buffer
}

func NewReader(upstream io.Reader, decrypter Decrypter) *Reader {
	return &Reader{
		reader:    upstream,
		decrypter: decrypter,
	}
}

func (r *Reader) CacheLen() int {
	cache := r.cache
	if cache == nil {
		return 0
	}
	return cache.Len()
}

func (r *Reader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	for {
		if r.cache != nil {
			if r.cache.IsEmpty() {
				r.cache.Release()
				r.cache = nil
			} else {
				n = copy(p, r.cache.Bytes())
				r.cache.Advance(n)
				return
			}
		}
		r.cache, err = r.readBuffer()
		if err != nil {
			return
		}
	}
}

func (r *Reader) readBuffer() (*buf.Buffer, error) {
	chunk := buf.New()
	defer chunk.Release()
	for {
		n, err := r.reader.Read(chunk.FreeBytes())
		if n > 0 {
			plaintext, dErr := r.decrypt(chunk.To(n))
			if dErr != nil {
				return nil, dErr
			}
			if len(plaintext) > 0 {
				buffer := buf.NewSize(len(plaintext))
				common.Must1(buffer.Write(plaintext))
				return buffer, nil
			}
		}
		if err != nil {
			if err == io.EOF && r.pending != nil {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func (r *Reader) decrypt(ciphertext []byte) ([]byte, error) {
	if r.pending != nil {
		ciphertext = append(r.pending, ciphertext...)
	}
	plaintext, err := r.decrypter.Decrypt(ciphertext)
	if errors.Is(err, C.ErrTruncatedHeader) {
		r.pending = append([]byte(nil), ciphertext...)
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	r.pending = nil
	return plaintext, nil
}
