package service

import (
	"errors"
	"time"

	"TeamMatch/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid 签名错误、篡改或格式不对
	ErrTokenInvalid = errors.New("确认链接无效")
	// ErrTokenExpired 超过配置的最大有效期（默认7天）
	ErrTokenExpired = errors.New("确认链接已过期")
)

// OptInClaims 入池令牌载荷：成员、届次、签发时刻的队伍码快照。
// 队伍码只是快照，处理时一律以成员当前归属为准
type OptInClaims struct {
	MemberID  uint64 `json:"member_id"`
	EditionID uint64 `json:"edition_id"`
	TeamCode  string `json:"team_code"`
	jwt.RegisteredClaims
}

// TokenService 入池令牌的签发与校验。令牌可重复点击，幂等由合并池状态保证，
// 这里不做一次性作废
type TokenService struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

func NewTokenService(cfg *config.MergeConfig) *TokenService {
	return &TokenService{
		secret: []byte(cfg.TokenSecret),
		maxAge: cfg.TokenMaxAge,
		now:    time.Now,
	}
}

// Issue 签发带时限的入池令牌
func (s *TokenService) Issue(memberID, editionID uint64, teamCode string) (string, error) {
	now := s.now()
	claims := OptInClaims{
		MemberID:  memberID,
		EditionID: editionID,
		TeamCode:  teamCode,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify 校验签名与有效期，失败返回 ErrTokenExpired / ErrTokenInvalid
func (s *TokenService) Verify(tokenString string) (*OptInClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OptInClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	claims, ok := token.Claims.(*OptInClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
