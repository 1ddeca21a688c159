package supabase

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// accessTokenClaims GoTrue 签发的 Access Token 中用到的声明
type accessTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// parseAccessToken 只解码不验签
// 签名由后端在每次请求时校验，客户端只需要 sub、email、exp
func parseAccessToken(token string) (*accessTokenClaims, error) {
	claims := &accessTokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode access token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("decode access token: missing sub claim")
	}
	return claims, nil
}

// sessionFromTokens 由登录链接回跳带回的两个 token 构造会话
func sessionFromTokens(accessToken, refreshToken string) (*Session, error) {
	claims, err := parseAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	s := &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		User:         User{ID: claims.Subject, Email: claims.Email},
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return s, nil
}
