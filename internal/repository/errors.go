package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation はPostgreSQLの一意性制約違反のSQLSTATEコード。
const uniqueViolation = "23505"

// isUniqueViolation はエラーが一意性制約違反かどうかを判定する。
// リポジトリ層はストアが報告した制約違反をCONFLICTとして表面化するだけで、
// 一意性そのものの再検証は行わない。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	return false
}
