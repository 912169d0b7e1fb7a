// Package identity は外部の認証基盤から渡される呼び出し元情報を扱う。
// 管理者かどうかは認証基盤の判断をそのまま信頼し、ここでは再判定しない。
package identity

import (
	"errors"
	"fmt"

	"github.com/gorilla/securecookie"
)

// CookieName は呼び出し元情報を運ぶCookie名。
const CookieName = "trio_session"

// DefaultMaxAge はCookieの有効期限（秒）のデフォルト値。
const DefaultMaxAge = 86400 * 7

// Identity は呼び出し元ユーザーを表す。
type Identity struct {
	UserID  string `json:"uid"`
	IsAdmin bool   `json:"adm"`
}

// ErrInvalidIdentity はCookieの検証やデコードに失敗したことを示す。
var ErrInvalidIdentity = errors.New("invalid identity")

// CookieCodec はsecurecookieでIdentityを署名（および任意で暗号化）する。
// 認証基盤と同じ鍵を共有し、認証基盤が発行したCookieを検証する。
type CookieCodec struct {
	sc *securecookie.SecureCookie
}

// NewCookieCodec はCookieCodecを生成する。
// hashKeyは署名用（32または64バイト推奨）、blockKeyは暗号化用で空の場合は暗号化しない。
func NewCookieCodec(hashKey, blockKey []byte, maxAge int) *CookieCodec {
	if len(blockKey) == 0 {
		blockKey = nil
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(maxAge)
	return &CookieCodec{sc: sc}
}

// Encode はIdentityをCookie値に変換する。
func (c *CookieCodec) Encode(id Identity) (string, error) {
	if id.UserID == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidIdentity)
	}
	value, err := c.sc.Encode(CookieName, id)
	if err != nil {
		return "", fmt.Errorf("failed to encode identity: %w", err)
	}
	return value, nil
}

// Decode はCookie値を検証してIdentityを取り出す。
func (c *CookieCodec) Decode(value string) (Identity, error) {
	var id Identity
	if err := c.sc.Decode(CookieName, value, &id); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("%w: empty user id", ErrInvalidIdentity)
	}
	return id, nil
}
