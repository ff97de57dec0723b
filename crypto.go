package lorawan

import (
	"crypto/aes"
	"fmt"

	"github.com/jacobsa/crypto/cmac"
)

// EncryptAES128ECB encrypts pt with key in ECB mode, padding disabled.
// pt must be a multiple of 16 bytes.
func EncryptAES128ECB(key AES128Key, pt []byte) ([]byte, error) {
	if len(pt)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d is not a multiple of 16", ErrInvalidBufferLength, len(pt))
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	ct := make([]byte, len(pt))
	for i := 0; i < len(pt); i += aes.BlockSize {
		block.Encrypt(ct[i:i+aes.BlockSize], pt[i:i+aes.BlockSize])
	}
	return ct, nil
}

// DecryptAES128ECB decrypts ct with key in ECB mode, padding disabled.
// ct must be a multiple of 16 bytes.
func DecryptAES128ECB(key AES128Key, ct []byte) ([]byte, error) {
	if len(ct)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d is not a multiple of 16", ErrInvalidBufferLength, len(ct))
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	pt := make([]byte, len(ct))
	for i := 0; i < len(ct); i += aes.BlockSize {
		block.Decrypt(pt[i:i+aes.BlockSize], ct[i:i+aes.BlockSize])
	}
	return pt, nil
}

// ComputeAESCMAC returns the 16-byte AES-CMAC tag of data under key.
func ComputeAESCMAC(key AES128Key, data []byte) ([]byte, error) {
	hash, err := cmac.New(key[:])
	if err != nil {
		return nil, err
	}
	if _, err = hash.Write(data); err != nil {
		return nil, err
	}
	return hash.Sum([]byte{}), nil
}

// ComputeMIC returns the first 4 bytes of the AES-CMAC of data under key.
func ComputeMIC(key AES128Key, data []byte) (MIC, error) {
	var mic MIC

	hb, err := ComputeAESCMAC(key, data)
	if err != nil {
		return mic, err
	}
	if len(hb) < len(mic) {
		return mic, fmt.Errorf("lorawan: the hash returned less than %d bytes", len(mic))
	}

	copy(mic[:], hb[0:len(mic)])
	return mic, nil
}

// PadTo16 zero-extends b to the next 16-byte boundary. Buffers that are
// already block-aligned are returned unchanged.
func PadTo16(b []byte) []byte {
	if len(b)%aes.BlockSize == 0 {
		return b
	}
	return append(b, make([]byte, aes.BlockSize-len(b)%aes.BlockSize)...)
}
