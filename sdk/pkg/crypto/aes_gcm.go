package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// PasswordPlaceholder 连接串中待替换的密码占位符
const PasswordPlaceholder = "{password}"

// CryptoService AES-256-GCM 加密服务，用于租户连接密码的存储
type CryptoService struct {
	aead cipher.AEAD
}

// NewCryptoService 创建加密服务（密钥必须是32字节）
func NewCryptoService(key string) (*CryptoService, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &CryptoService{aead: aead}, nil
}

// String 不输出密钥
func (s *CryptoService) String() string {
	return "CryptoService{key: [REDACTED]}"
}

// Encrypt 加密明文，返回 Base64(nonce + ciphertext + tag)
func (s *CryptoService) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密 Encrypt 的输出
func (s *CryptoService) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", ErrInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// ExpandDSN 解密密码并替换连接串中的 {password} 占位符
func (s *CryptoService) ExpandDSN(dsn, encryptedPassword string) (string, error) {
	if !strings.Contains(dsn, PasswordPlaceholder) {
		return dsn, nil
	}
	if s == nil {
		return "", ErrNoKey
	}
	password, err := s.Decrypt(encryptedPassword)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(dsn, PasswordPlaceholder, password), nil
}
