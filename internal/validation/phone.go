// Package validation содержит функции валидации входных данных.
package validation

import "strings"

// NormalizePhone приводит российский номер телефона к формату +7XXXXXXXXXX.
// Возвращает пустую строку, если номер не удалось распознать.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 11 && (digits[0] == '7' || digits[0] == '8'):
		return "+7" + digits[1:]
	case len(digits) == 10 && digits[0] == '9':
		return "+7" + digits
	}
	return ""
}

// IsValidPhone проверяет, является ли строка корректным российским номером телефона.
func IsValidPhone(phone string) bool {
	return NormalizePhone(phone) != ""
}

// MaskPhone маскирует середину номера для логирования: +79991234567 -> +7999***4567.
func MaskPhone(phone string) string {
	normalized := NormalizePhone(phone)
	if normalized == "" {
		return "***"
	}
	return normalized[:5] + "***" + normalized[len(normalized)-4:]
}
