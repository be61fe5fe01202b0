// ABOUTME: AES-CBC decryption of RAOP audio payloads
// ABOUTME: Output is framed with a 4-byte length so the codec can split packets
package raop

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Decryptor decrypts audio with the session key. Every packet starts from
// the same IV; a trailing partial block is sent in the clear.
type Decryptor struct {
	block cipher.Block
	iv    []byte
}

func NewDecryptor(key, iv []byte) (*Decryptor, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("raop: aes key: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("raop: aes iv of %d bytes", len(iv))
	}
	return &Decryptor{block: block, iv: append([]byte(nil), iv...)}, nil
}

// Decrypt appends the framed plaintext of payload to dst
func (d *Decryptor) Decrypt(dst, payload []byte) []byte {
	dst = AppendPacket(dst, payload)
	out := dst[len(dst)-len(payload):]
	whole := len(payload) - len(payload)%aes.BlockSize
	if whole > 0 {
		cipher.NewCBCDecrypter(d.block, d.iv).CryptBlocks(out[:whole], payload[:whole])
	}
	return dst
}
