package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyPasswordHash はユーザー不在・パスワード未設定時の比較に使うダミーハッシュ。
// "unknown user" と "wrong password" の応答時間差からどちらのケースかを
// 推測されないよう、失敗パスでも必ず1回bcrypt比較を行う。
// bcrypt.DefaultCost で生成した固定値で、比較結果は常に破棄される。
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword は平文パスワードのbcryptハッシュを生成する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword は平文パスワードを格納済みハッシュと定数時間比較する。
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// compareDummyPassword は失敗パスの時間を揃えるためのダミー比較。
// 結果は常にfalse。
func compareDummyPassword(password string) {
	_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(password))
}
