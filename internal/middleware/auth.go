package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKeyDeviceID is the gin context key holding the authenticated
// device ID after DeviceAuth runs.
const ContextKeyDeviceID = "deviceID"

// DeviceClaims are the JWT claims issued to a syncing device.
type DeviceClaims struct {
	DeviceID string `json:"deviceId"`
	jwt.RegisteredClaims
}

// GenerateDeviceToken issues a signed HS256 token for a device. Tokens
// are long-lived; a device re-registers to rotate.
func GenerateDeviceToken(secret, deviceID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign device token: %w", err)
	}

	return signed, nil
}

// DeviceAuth validates the Bearer token and stores the device ID in the
// request context.
func DeviceAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims := &DeviceClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims,
			func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid token")
			return
		}
		if claims.DeviceID == "" {
			abortUnauthorized(c, "token missing device id")
			return
		}

		c.Set(ContextKeyDeviceID, claims.DeviceID)
		c.Next()
	}
}

// DeviceID returns the authenticated device ID from the context.
func DeviceID(c *gin.Context) string {
	id, _ := c.Get(ContextKeyDeviceID)
	s, _ := id.(string)
	return s
}

func abortUnauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": message,
	})
	c.Abort()
}
