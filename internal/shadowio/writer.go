package shadowio

import (
	"io"
	"sync"

	"github.com/sagernet/sing/common"
	"github.com/sagernet/sing/common/buf"
	"github.com/sagernet/sing/common/bufio"
	N "github.com/sagernet/sing/common/network"
)

type Encrypter interface {
	Encrypt(plaintext []byte) ([]byte, error)
}

// Writer encrypts every chunk written to it before passing it upstream.
// Writes are serialized so the keystream follows write order.
type Writer struct {
	writer    N.ExtendedWriter
	encrypter Encrypter
	access    sync.Mutex
}

func NewWriter(writer io.Writer, encrypter Encrypter) *Writer {
	return &Writer{
		writer:    bufio.NewExtendedWriter(writer),
		encrypter: encrypter,
	}
}

func (w *Writer) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	w.access.Lock()
	defer w.access.Unlock()
	ciphertext, err := w.encrypter.Encrypt(p)
	if err != nil {
		return
	}
	_, err = w.writer.Write(ciphertext)
	if err != nil {
		return
	}
	return len(p), nil
}

func (w *Writer) WriteBuffer(buffer *buf.Buffer) error {
	defer buffer.Release()
	return common.Error(w.Write(buffer.Bytes()))
}

func (w *Writer) Upstream() any {
	return w.writer
}
