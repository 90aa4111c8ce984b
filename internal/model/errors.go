package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeProviderMisconfigured = "PROVIDER_MISCONFIGURED"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeBadInput              = "BAD_INPUT"
	ErrCodeConflict              = "CONFLICT"
)

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// メールアドレス不明・パスワード不一致・パスワード未設定のいずれの場合も
// 同一内容を返し、どの要素が誤っていたかを呼び出し側に漏らさない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewProviderMisconfiguredError は外部IdP設定不備エラーを生成する。
// 起動時にのみ発生し、リクエスト単位では発生しない。
func NewProviderMisconfiguredError(provider string, missing []string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderMisconfigured,
		Message:  fmt.Sprintf("外部認証プロバイダー %s の設定が不完全です: %v", provider, missing),
		Category: "system",
		Action:   "環境変数の設定を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "この操作にはログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewNotFoundError は対象未検出エラーを生成する。
func NewNotFoundError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定された操作またはリソースが見つかりません: %s", name),
		Category: "validation",
		Action:   "名前を確認してください。",
	}
}

// NewBadInputError は入力検証エラーを生成する。
// デバッグ容易性のため、違反した制約をそのままメッセージに含める。
func NewBadInputError(constraint string) *APIError {
	return &APIError{
		Code:     ErrCodeBadInput,
		Message:  fmt.Sprintf("入力が不正です: %s", constraint),
		Category: "validation",
		Action:   "入力内容を修正して再度お試しください。",
	}
}

// NewConflictError はストアの一意性制約違反エラーを生成する。
func NewConflictError(detail string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("既に登録されています: %s", detail),
		Category: "validation",
		Action:   "別の値を指定するか、既存の登録を利用してください。",
	}
}
