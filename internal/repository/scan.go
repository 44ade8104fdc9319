package repository

import (
	"database/sql"
	"time"

	"github.com/hitoshi/servicehub/internal/model"
)

// roleFromNull はNULL許容のrole列をロールに変換する。
// 旧表記（小文字）は正規化し、閉じた集合外の値はそのまま保持して
// 認可判定側でErrUnknownRoleとして扱わせる。
func roleFromNull(ns sql.NullString) *model.Role {
	if !ns.Valid {
		return nil
	}
	if r, err := model.ParseRole(ns.String); err == nil {
		return &r
	}
	raw := model.Role(ns.String)
	return &raw
}

// timeFromNull はNULL許容のtimestamp列を変換する。
func timeFromNull(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// nullRole はロールをNULL許容の列値に変換する。
func nullRole(r *model.Role) sql.NullString {
	if r == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*r), Valid: true}
}

// nullTime は時刻をNULL許容の列値に変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
