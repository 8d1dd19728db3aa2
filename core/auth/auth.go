package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// 控制口令长度上限，bcrypt 只看前 72 字节
const maxPassphraseLen = 72

var (
	ErrEmptyPassphrase = errors.New("empty passphrase")
	ErrLongPassphrase  = errors.New("passphrase longer than 72 bytes")
)

// HashPassphrase 生成控制口令的 bcrypt 哈希，写入 CONTROL_PASSPHRASE_HASH
func HashPassphrase(passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	if len(passphrase) > maxPassphraseLen {
		return "", ErrLongPassphrase
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(passphrase), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash passphrase: %w", err)
	}
	return string(hash), nil
}

// CheckPassphrase 校验客户端提交的口令，未配置哈希时一律拒绝
func CheckPassphrase(hash, passphrase string) bool {
	if hash == "" || passphrase == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)) == nil
}
