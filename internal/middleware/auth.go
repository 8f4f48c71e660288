package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"campus_market/internal/config"
	"campus_market/internal/domain"
	"campus_market/internal/repository"
	apperrors "campus_market/pkg/errors"
	"campus_market/pkg/logger"
)

const userContextKey = "current_user"

// AuthMiddleware validates bearer tokens issued by the identity service and
// resolves the principal. The user row is loaded per request so that
// verification status and institution affiliation are always current.
type AuthMiddleware struct {
	jwtCfg   config.JWTConfig
	userRepo repository.UserRepository
	log      logger.Logger
}

func NewAuthMiddleware(jwtCfg config.JWTConfig, userRepo repository.UserRepository, log logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtCfg:   jwtCfg,
		userRepo: userRepo,
		log:      log,
	}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			c.Abort()
			return
		}

		user, err := m.Authenticate(c.Request.Context(), parts[1])
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(userContextKey, user)
		c.Next()
	}
}

// Authenticate validates the token and loads the principal. Also used by the
// websocket handler, where the token arrives as a query parameter.
func (m *AuthMiddleware) Authenticate(ctx context.Context, tokenString string) (*domain.User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.jwtCfg.Secret), nil
	}, jwt.WithIssuer(m.jwtCfg.Issuer), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return nil, apperrors.ErrInvalidToken
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}
	userID, err := uuid.Parse(subject)
	if err != nil {
		return nil, apperrors.ErrInvalidToken
	}

	user, err := m.userRepo.GetByID(ctx, userID)
	if err != nil {
		m.log.Warn("Token subject not found", "user_id", userID)
		return nil, apperrors.ErrUnauthorized
	}

	return user, nil
}

// CurrentUser returns the principal set by RequireAuth, or nil.
func CurrentUser(c *gin.Context) *domain.User {
	if v, ok := c.Get(userContextKey); ok {
		if user, ok := v.(*domain.User); ok {
			return user
		}
	}
	return nil
}
