package shadowstream

import (
	"crypto/aes"
	"crypto/cipher"
	"strings"

	C "github.com/sagernet/sing-shadowpool/cipher"
	E "github.com/sagernet/sing/common/exceptions"
)

const IVLength = 16

// Suite describes one stream cipher variant.
type Suite struct {
	Name      string
	KeySize   int
	IVSize    int
	Encrypter func(key []byte, iv []byte) (cipher.Stream, error)
	Decrypter func(key []byte, iv []byte) (cipher.Stream, error)
}

var suites = map[string]*Suite{
	"aes-128-cfb": aesCFB("aes-128-cfb", 16),
	"aes-192-cfb": aesCFB("aes-192-cfb", 24),
	"aes-256-cfb": aesCFB("aes-256-cfb", 32),
}

var aliases = map[string]string{
	"stream-aes-128": "aes-128-cfb",
	"stream-aes-192": "aes-192-cfb",
	"stream-aes-256": "aes-256-cfb",
}

// MethodNames lists the suite names followed by their aliases.
var MethodNames = []string{
	"aes-128-cfb",
	"aes-192-cfb",
	"aes-256-cfb",
	"stream-aes-128",
	"stream-aes-192",
	"stream-aes-256",
}

func init() {
	C.RegisterMethod(MethodNames, NewMethod)
	C.RegisterService(MethodNames, NewService)
}

// LookupSuite resolves a method name or alias, ignoring case.
func LookupSuite(method string) (*Suite, error) {
	name := strings.ToLower(method)
	if canonical, loaded := aliases[name]; loaded {
		name = canonical
	}
	suite, loaded := suites[name]
	if !loaded {
		return nil, E.Extend(C.ErrUnsupportedMethod, method)
	}
	return suite, nil
}

func aesCFB(name string, keySize int) *Suite {
	return &Suite{
		Name:    name,
		KeySize: keySize,
		IVSize:  IVLength,
		Encrypter: func(key []byte, iv []byte) (cipher.Stream, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewCFBEncrypter(block, iv), nil
		},
		Decrypter: func(key []byte, iv []byte) (cipher.Stream, error) {
			block, err := aes.NewCipher(key)
			if err != nil {
				return nil, err
			}
			return cipher.NewCFBDecrypter(block, iv), nil
		},
	}
}
