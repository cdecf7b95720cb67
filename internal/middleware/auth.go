package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const (
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
	tokenQueryParam     = "token"
)

var ErrMissingToken = errors.New("missing token")

type Claims struct {
	jwt.RegisteredClaims
}

// AuthMiddleware checks HS256 bearer tokens signed with a shared secret. With no secret
// configured every request passes.
type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

func (am *AuthMiddleware) Enabled() bool {
	return len(am.secret) > 0
}

func (am *AuthMiddleware) RequireAuth(handler fasthttp.RequestHandler) fasthttp.RequestHandler {
	if !am.Enabled() {
		return handler
	}

	return func(ctx *fasthttp.RequestCtx) {
		claims, err := am.ValidateRequest(ctx)
		if err != nil {
			log.Debug().Err(err).Str("path", string(ctx.Path())).Msg("Authentication failed")
			ctx.Error("Unauthorized", fasthttp.StatusUnauthorized)
			return
		}

		ctx.SetUserValue("claims", claims)

		handler(ctx)
	}
}

// ValidateRequest reads the token from the Authorization header, or from the token query
// parameter for clients such as browsers opening a websocket.
func (am *AuthMiddleware) ValidateRequest(ctx *fasthttp.RequestCtx) (*Claims, error) {
	tokenString := ""
	if authHeader := string(ctx.Request.Header.Peek(headerAuthorization)); authHeader != "" {
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			return nil, fmt.Errorf("invalid authorization header")
		}
		tokenString = strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	} else {
		tokenString = string(ctx.QueryArgs().Peek(tokenQueryParam))
	}

	if tokenString == "" {
		return nil, ErrMissingToken
	}
	return am.ValidateToken(tokenString)
}

func (am *AuthMiddleware) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return am.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// IssueToken signs a token for subject that expires after ttl.
func (am *AuthMiddleware) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !am.Enabled() {
		return "", fmt.Errorf("no signing secret configured")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(am.secret)
}
