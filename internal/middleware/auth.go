// Package middleware содержит HTTP middleware сервиса доставки пиццы.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const userIDKey contextKey = "userID"

const (
	authCookieName = "pizzanat_auth"
	authCookieTTL  = 30 * 24 * time.Hour
)

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
	adminKey  string
}

// NewAuthMiddleware создаёт middleware аутентификации. adminKey — общий секрет
// административных эндпоинтов; пустое значение закрывает их полностью.
func NewAuthMiddleware(secret, adminKey string) *AuthMiddleware {
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
		adminKey:  adminKey,
	}
}

// Required проверяет cookie авторизации и кладёт идентификатор пользователя
// в контекст запроса. Запросы без валидного cookie отклоняются.
func (a *AuthMiddleware) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.userFromRequest(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Optional кладёт идентификатор пользователя в контекст, если cookie валиден,
// и пропускает запрос дальше в любом случае. Используется для заказов без
// регистрации.
func (a *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := a.userFromRequest(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}

// Admin пропускает только запросы с верным ключом в заголовке X-Admin-Key.
func (a *AuthMiddleware) Admin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-Admin-Key")
		if a.adminKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(a.adminKey)) != 1 {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *AuthMiddleware) userFromRequest(r *http.Request) (int64, bool) {
	cookie, err := r.Cookie(authCookieName)
	if err != nil {
		return 0, false
	}
	return a.parseCookie(cookie.Value)
}

// SetAuthCookie устанавливает cookie авторизации для указанного идентификатора пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.signUserID(strconv.FormatInt(userID, 10)),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *AuthMiddleware) signUserID(idStr string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr))
	return idStr + "." + hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (int64, bool) {
	idStr, signature, found := strings.Cut(cookieValue, ".")
	if !found {
		return 0, false
	}

	_, expected, _ := strings.Cut(a.signUserID(idStr), ".")
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return 0, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// GetUserIDFromContext извлекает идентификатор пользователя из контекста запроса.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}
