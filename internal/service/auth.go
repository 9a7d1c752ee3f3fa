package service

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
)

// OTPHeader carries the one-time code of admin requests.
const OTPHeader = "X-Admin-OTP"

type AuthService struct {
	logger     *zap.Logger
	totpSecret string
}

func NewAuthService(logger *zap.Logger, totpSecret string) *AuthService {
	return &AuthService{
		logger:     logger,
		totpSecret: totpSecret,
	}
}

// GenerateSecret returns a fresh secret and its otpauth:// URL.
func (a *AuthService) GenerateSecret(accountName string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "QuickByte",
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	return key.Secret(), key.URL(), nil
}

// Enabled reports whether a secret is configured.
func (a *AuthService) Enabled() bool {
	return a.totpSecret != ""
}

func (a *AuthService) ValidateToken(token string) bool {
	if token == "" || !a.Enabled() {
		return false
	}
	valid := totp.Validate(token, a.totpSecret)
	if !valid {
		a.logger.Warn("TOTP token validation failed")
	}
	return valid
}

// AuthMiddleware guards admin routes with a TOTP code. Without a configured
// secret the routes are closed.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access is not configured"})
			return
		}
		if !a.ValidateToken(c.GetHeader(OTPHeader)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Next()
	}
}
