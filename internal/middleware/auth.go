// Package middleware содержит HTTP middleware сервиса бронирования столовой.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/mmeshcher/canteen-system/internal/auth"
	"github.com/mmeshcher/canteen-system/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "canteen_token"
	authCookieTTL  = 7 * 24 * time.Hour
)

// AuthMiddleware проверяет подписанный cookie и восстанавливает личность
// пользователя. Роль не хранится в cookie, а заново выводится из адреса
// при каждом запросе: клиентской роли доверять нельзя.
type AuthMiddleware struct {
	secretKey []byte
	resolver  *auth.Resolver
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string, resolver *auth.Resolver) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		resolver:  resolver,
	}
}

// Middleware проверяет cookie авторизации и добавляет личность пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		email, name, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := a.resolver.Resolve(email, name)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, *user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, email, name string) {
	value := a.sign(encodeIdentity(email, name))

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// ClearAuthCookie сбрасывает cookie авторизации.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func encodeIdentity(email, name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(email + "\n" + name))
}

func decodeIdentity(encoded string) (string, string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", false
	}

	email, name, found := strings.Cut(string(raw), "\n")
	if !found || email == "" {
		return "", "", false
	}

	return email, name, true
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	signature := mac.Sum(nil)
	return payload + "." + hex.EncodeToString(signature)
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (string, string, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return "", "", false
	}

	payload := parts[0]
	signature := parts[1]

	expected := a.sign(payload)
	expectedParts := strings.Split(expected, ".")
	if len(expectedParts) != 2 {
		return "", "", false
	}

	if !hmac.Equal([]byte(signature), []byte(expectedParts[1])) {
		return "", "", false
	}

	return decodeIdentity(payload)
}

// GetIdentityFromContext извлекает личность пользователя из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (model.User, bool) {
	user, ok := ctx.Value(identityKey).(model.User)
	return user, ok
}

// WithIdentity возвращает контекст с указанной личностью. Используется в тестах.
func WithIdentity(ctx context.Context, user model.User) context.Context {
	return context.WithValue(ctx, identityKey, user)
}
