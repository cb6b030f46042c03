package cipher

import E "github.com/sagernet/sing/common/exceptions"

// Configuration errors. Fatal to method or service construction.
var (
	ErrUnsupportedMethod = E.New("unsupported method")
	ErrMissingPassword   = E.New("missing password")
)

// Protocol errors.
//
// ErrTruncatedHeader is recoverable: the caller buffers more bytes and retries
// from the same stream position. ErrMalformedCiphertext and ErrIVNotUnique
// end the connection.
var (
	ErrTruncatedHeader     = E.New("truncated header")
	ErrMalformedCiphertext = E.New("malformed ciphertext")
	ErrIVNotUnique         = E.New("iv not unique")
)
