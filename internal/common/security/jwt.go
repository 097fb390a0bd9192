package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"aca_backend/internal/domain/model"
	"aca_backend/internal/platform/config"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
)

var (
	TokenAuth *jwtauth.JWTAuth
	tokenTTL  = 12 * time.Hour
)

func InitJWT() {
	Configure(config.AppConfig.JWTKey, config.AppConfig.JWTExp)
}

// Configure installs the HS256 signer and the validity window of issued tokens.
func Configure(secret []byte, ttl time.Duration) {
	TokenAuth = jwtauth.New("HS256", secret, nil)
	tokenTTL = ttl
}

func GenerateToken(identity model.Identity) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"id":    identity.UserID,
		"email": identity.Email,
		"role":  identity.Role,
		"exp":   now.Add(tokenTTL).Unix(),
		"iat":   now.Unix(),
	}
	_, tokenString, err := TokenAuth.Encode(claims)
	return tokenString, err
}

// ParseToken verifies signature and expiry and returns the carried identity.
func ParseToken(tokenString string) (model.Identity, error) {
	token, err := jwtauth.VerifyToken(TokenAuth, tokenString)
	if err != nil {
		return model.Identity{}, err
	}
	claims, err := token.AsMap(context.Background())
	if err != nil {
		return model.Identity{}, err
	}
	return IdentityFromClaims(claims)
}

func IdentityFromClaims(claims map[string]interface{}) (model.Identity, error) {
	id, err := GetUserIDFromClaims(claims)
	if err != nil {
		return model.Identity{}, err
	}
	role, err := GetUserRoleFromClaims(claims)
	if err != nil {
		return model.Identity{}, err
	}
	email, _ := claims["email"].(string)
	return model.Identity{UserID: id, Email: email, Role: role}, nil
}

// GetUserIDFromClaims accepts the numeric shapes JSON decoders produce for "id".
func GetUserIDFromClaims(claims map[string]interface{}) (int64, error) {
	switch v := claims["id"].(type) {
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, errors.New("id claim is missing")
	default:
		return 0, fmt.Errorf("id claim has unexpected type %T", v)
	}
}

func GetUserRoleFromClaims(claims map[string]interface{}) (string, error) {
	role, ok := claims["role"].(string)
	if !ok {
		return "", errors.New("role claim is missing or not a string")
	}
	return role, nil
}
