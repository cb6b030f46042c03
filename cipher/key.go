package cipher

import "crypto/md5"

// Key derives a keySize byte key from password the way OpenSSL
// EVP_BytesToKey does with MD5, one iteration and no salt.
func Key(password []byte, keySize int) []byte {
	var b, prev []byte
	h := md5.New()
	for len(b) < keySize {
		h.Write(prev)
		h.Write(password)
		b = h.Sum(b)
		prev = b[len(b)-h.Size():]
		h.Reset()
	}
	return b[:keySize]
}
