// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidationError описывает ошибку валидации конкретного поля запроса.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidDate проверяет, что строка имеет формат yyyy-MM-dd.
// Лексикографическое сравнение таких дат совпадает с хронологическим.
func IsValidDate(date string) bool {
	if len(date) != 10 || date[4] != '-' || date[7] != '-' {
		return false
	}
	for i, ch := range date {
		if i == 4 || i == 7 {
			continue
		}
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	month := (int(date[5]-'0'))*10 + int(date[6]-'0')
	day := (int(date[8]-'0'))*10 + int(date[9]-'0')
	return month >= 1 && month <= 12 && day >= 1 && day <= 31
}

// EmailLocalPart возвращает локальную часть адреса (до символа @).
func EmailLocalPart(email string) string {
	if at := strings.Index(email, "@"); at >= 0 {
		return email[:at]
	}
	return email
}

// HasDomain проверяет, что адрес принадлежит указанному почтовому домену.
func HasDomain(email, domain string) bool {
	if email == "" || domain == "" {
		return false
	}
	return strings.HasSuffix(strings.ToLower(email), "@"+strings.ToLower(domain))
}
