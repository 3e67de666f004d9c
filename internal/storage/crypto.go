package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pbkdf2"
)

// Envelope magic numbers.
const (
	FormatGCM = "GCM3NCR0"
	FormatCBC = "3NCR0PTD"
)

const pbkdf2Iterations = 100000

// IsEncrypted reports whether data starts with a known envelope.
func IsEncrypted(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	switch string(data[:8]) {
	case FormatGCM, FormatCBC:
		return true
	}
	return false
}

// Decrypt opens a GCM or CBC envelope and returns the plaintext and format.
func Decrypt(encryptedData []byte, password string) ([]byte, string, error) {
	if len(encryptedData) < 8 {
		return nil, "", fmt.Errorf("encrypted data too short: %d bytes", len(encryptedData))
	}

	switch magic := string(encryptedData[:8]); magic {
	case FormatGCM:
		log.Debug().Msg("detected GCM format encryption")
		data, err := decryptGCM(encryptedData, password)
		return data, magic, err
	case FormatCBC:
		log.Debug().Msg("detected legacy CBC format encryption")
		data, err := decryptLegacyCBC(encryptedData, password)
		return data, magic, err
	default:
		return nil, "", fmt.Errorf("unknown encryption envelope")
	}
}

func decryptGCM(encryptedData []byte, password string) ([]byte, error) {
	// Format: magic(8) + salt(16) + nonce(12) + encrypted_data + auth_tag(16)
	if len(encryptedData) < 8+16+12+16 {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(encryptedData))
	}

	salt := encryptedData[8:24]
	nonce := encryptedData[24:36]
	encryptedWithTag := encryptedData[36:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, encryptedWithTag, nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}

func decryptLegacyCBC(encryptedData []byte, password string) ([]byte, error) {
	// Format: magic(8) + hash(32) + length(8) + salt(16) + iv(16) + encrypted_data
	if len(encryptedData) < 8+32+8+16+16 {
		return nil, fmt.Errorf("legacy CBC data too short: %d bytes", len(encryptedData))
	}

	storedHash := encryptedData[8:40]
	length := binary.BigEndian.Uint64(encryptedData[40:48])
	encrypted := encryptedData[48:]

	if uint64(len(encrypted)) != length {
		return nil, fmt.Errorf("length mismatch: expected %d, got %d", length, len(encrypted))
	}

	calculatedHash := sha256.Sum256(encrypted)
	if !bytes.Equal(storedHash, calculatedHash[:]) {
		return nil, fmt.Errorf("hash verification failed - data corrupted")
	}

	salt := encrypted[:16]
	iv := encrypted[16:32]
	ciphertext := encrypted[32:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext is not a multiple of block size")
	}

	mode := cipher.NewCBCDecrypter(block, iv)
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	unpadded, err := removePKCS7Padding(plaintext)
	if err != nil {
		// wrong password ends up here: the hash covers ciphertext only
		return nil, fmt.Errorf("CBC decryption failed: %w", err)
	}
	return unpadded, nil
}

// Encrypt seals data in the 3NCR0PTD envelope.
func Encrypt(data []byte, password string) ([]byte, error) {
	salt := make([]byte, 16)
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	paddedData := applyPKCS7Padding(data, aes.BlockSize)
	mode := cipher.NewCBCEncrypter(block, iv)
	ciphertext := make([]byte, len(paddedData))
	mode.CryptBlocks(ciphertext, paddedData)

	encrypted := make([]byte, 0, 16+16+len(ciphertext))
	encrypted = append(encrypted, salt...)
	encrypted = append(encrypted, iv...)
	encrypted = append(encrypted, ciphertext...)

	hash := sha256.Sum256(encrypted)
	lengthBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(lengthBytes, uint64(len(encrypted)))

	result := make([]byte, 0, 8+32+8+len(encrypted))
	result = append(result, FormatCBC...)
	result = append(result, hash[:]...)
	result = append(result, lengthBytes...)
	result = append(result, encrypted...)
	return result, nil
}

func applyPKCS7Padding(data []byte, blockSize int) []byte {
	padding := blockSize - (len(data) % blockSize)
	out := make([]byte, len(data), len(data)+padding)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func removePKCS7Padding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty data")
	}
	paddingLength := int(data[len(data)-1])
	if paddingLength == 0 || paddingLength > aes.BlockSize || paddingLength > len(data) {
		return nil, fmt.Errorf("invalid padding length: %d", paddingLength)
	}
	for i := len(data) - paddingLength; i < len(data); i++ {
		if data[i] != byte(paddingLength) {
			return nil, fmt.Errorf("invalid padding at position %d", i)
		}
	}
	return data[:len(data)-paddingLength], nil
}
