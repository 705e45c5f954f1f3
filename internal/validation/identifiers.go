package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// MaxUserIDLen максимальная длина user_id в байтах
const MaxUserIDLen = 256

// ErrEmptyUserID возвращается, когда user_id пуст после обрезки пробелов
var ErrEmptyUserID = errors.New("user_id cannot be empty")

// NormalizeUserID обрезает пробелы по краям и проверяет user_id
// Пустой идентификатор, слишком длинный или с управляющими символами отклоняется
func NormalizeUserID(raw string) (string, error) {
	userID := strings.TrimSpace(raw)
	if userID == "" {
		return "", ErrEmptyUserID
	}

	if len(userID) > MaxUserIDLen {
		return "", fmt.Errorf("user_id must not exceed %d bytes", MaxUserIDLen)
	}

	for _, r := range userID {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("user_id must not contain control characters")
		}
	}

	return userID, nil
}

// ValidateRevision проверяет, что номер ревизии положительный
func ValidateRevision(revision int64) error {
	if revision <= 0 {
		return fmt.Errorf("revision must be positive, got %d", revision)
	}
	return nil
}
