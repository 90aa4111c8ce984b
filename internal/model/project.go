package model

import "time"

// Project はインポートされたプロジェクトファイルのメタデータを表す。
// ファイル本体の内容は保存しない。
type Project struct {
	ID        string
	UserID    string
	Name      string
	FileName  string
	SizeBytes int64
	CreatedAt time.Time
}
