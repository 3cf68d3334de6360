package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/emreis/sanalpos/infra/apperr"
)

// SHA1Hex returns the lowercase hex SHA-1 digest of s
func SHA1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SHA1HexUpper returns the uppercase hex SHA-1 digest of s
func SHA1HexUpper(s string) string {
	return strings.ToUpper(SHA1Hex(s))
}

// SHA1PackBase64 hashes s with SHA-1, re-reads the hex digest as raw bytes
// and base64-encodes them. Matches the PHP base64_encode(pack('H*', sha1(s)))
// idiom several acquirers validate against.
func SHA1PackBase64(s string) string {
	raw, _ := hex.DecodeString(SHA1Hex(s))
	return base64.StdEncoding.EncodeToString(raw)
}

// SHA256Base64 returns the base64 of the raw SHA-256 digest of s
func SHA256Base64(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// SHA512Hex returns the lowercase hex SHA-512 digest of s
func SHA512Hex(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SHA512HexUpper returns the uppercase hex SHA-512 digest of s
func SHA512HexUpper(s string) string {
	return strings.ToUpper(SHA512Hex(s))
}

// SHA512PackBase64 hashes s with SHA-512 and base64-encodes the digest bytes
// through the hex representation, like PHP base64_encode(pack('H*', hash('sha512', s))).
func SHA512PackBase64(s string) string {
	raw, _ := hex.DecodeString(SHA512Hex(s))
	return base64.StdEncoding.EncodeToString(raw)
}

// MD5Hex returns the lowercase hex MD5 digest of s
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// MD5HexUpper returns the uppercase hex MD5 digest of s
func MD5HexUpper(s string) string {
	return strings.ToUpper(MD5Hex(s))
}

// cipherTextPattern matches the at-rest ciphertext shape "<iv-hex>:<cipher-hex>".
// The ":" separator doubles as the already-encrypted sentinel.
var cipherTextPattern = regexp.MustCompile(`^[0-9a-f]{32}:[0-9a-f]+$`)

// FieldCipher encrypts and decrypts individual entity fields with AES-CBC.
// The key is derived from the configured master secret so ciphertexts stay
// stable across restarts; the IV is derived from the plaintext, which keeps
// encryption deterministic per field.
type FieldCipher struct {
	key []byte
}

// NewFieldCipher derives a field cipher from the master secret
func NewFieldCipher(masterSecret string) *FieldCipher {
	key := sha256.Sum256([]byte(masterSecret))
	return &FieldCipher{key: key[:]}
}

// Encrypt encrypts clear into "<iv-hex>:<cipher-hex>". Input already carrying
// the sentinel is returned unchanged, so re-encryption is idempotent.
func (c *FieldCipher) Encrypt(clear string) (string, error) {
	if clear == "" || IsEncrypted(clear) {
		return clear, nil
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCrypto, err, "field encryption failed")
	}

	iv := c.deriveIV(clear)
	plain := pkcs7Pad([]byte(clear), block.BlockSize())
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plain)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Input without the sentinel is returned unchanged.
func (c *FieldCipher) Decrypt(value string) (string, error) {
	if value == "" || !IsEncrypted(value) {
		return value, nil
	}

	parts := strings.SplitN(value, ":", 2)
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", apperr.New(apperr.KindCrypto, "malformed ciphertext IV")
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil || len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", apperr.New(apperr.KindCrypto, "malformed ciphertext body")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", apperr.Wrap(apperr.KindCrypto, err, "field decryption failed")
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, err := pkcs7Unpad(out, block.BlockSize())
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the iv:ciphertext sentinel
func IsEncrypted(value string) bool {
	return cipherTextPattern.MatchString(value)
}

func (c *FieldCipher) deriveIV(clear string) []byte {
	sum := sha256.Sum256(append(c.key, []byte(clear)...))
	return sum[:aes.BlockSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, apperr.New(apperr.KindCrypto, "invalid padded length")
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, apperr.New(apperr.KindCrypto, "invalid padding")
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, apperr.New(apperr.KindCrypto, "invalid padding")
		}
	}
	return data[:len(data)-padding], nil
}

// TDESECBDecrypt decrypts data with Triple-DES in ECB mode. key must be 24 bytes.
func TDESECBDecrypt(data, key []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCrypto, err, "3DES key rejected")
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, apperr.New(apperr.KindCrypto, "3DES data not block aligned")
	}
	out := make([]byte, len(data))
	bs := block.BlockSize()
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}
	return out, nil
}

// TDESCBCDecrypt decrypts data with Triple-DES in CBC mode without padding
// removal. key must be 24 bytes and iv 8 bytes.
func TDESCBCDecrypt(data, key, iv []byte) ([]byte, error) {
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindCrypto, err, "3DES key rejected")
	}
	if len(iv) != block.BlockSize() {
		return nil, apperr.New(apperr.KindCrypto, "3DES IV must be 8 bytes")
	}
	if len(data) == 0 || len(data)%block.BlockSize() != 0 {
		return nil, apperr.New(apperr.KindCrypto, "3DES data not block aligned")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}
