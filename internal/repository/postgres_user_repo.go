package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/servicehub/internal/model"
)

const userColumns = `id, email, name, role, email_verified_at, status, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		user       model.User
		role       sql.NullString
		verifiedAt sql.NullTime
		status     string
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &role, &verifiedAt, &status, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	user.Role = roleFromNull(role)
	user.EmailVerifiedAt = timeFromNull(verifiedAt)
	user.Status = model.AccountStatus(status)
	return &user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// List はユーザー一覧を作成日時の降順で返す。
func (r *PostgresUserRepo) List(ctx context.Context, limit, offset int) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.ExternalIdentity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role, email_verified_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Email, user.Name, nullRole(user.Role), nullTime(user.EmailVerifiedAt),
		string(user.Status), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// identityを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert identity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// AssignInitialRole はロール未割り当てのユーザーにのみロールを設定する。
// 条件付きUPDATEにより、同時に2回選択されても最初の1回だけが反映される。
func (r *PostgresUserRepo) AssignInitialRole(ctx context.Context, id string, role model.Role) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET role = $2,
		     status = CASE WHEN status = 'PENDING' THEN 'ACTIVE' ELSE status END,
		     updated_at = now()
		 WHERE id = $1 AND role IS NULL`,
		id, string(role),
	)
	if err != nil {
		return false, fmt.Errorf("failed to assign role: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// UpdateRole はユーザーのロールを上書きする。
func (r *PostgresUserRepo) UpdateRole(ctx context.Context, id string, role model.Role) error {
	return r.updateOne(ctx, "role",
		`UPDATE users
		 SET role = $2,
		     status = CASE WHEN status = 'PENDING' THEN 'ACTIVE' ELSE status END,
		     updated_at = now()
		 WHERE id = $1`,
		id, string(role),
	)
}

// UpdateStatus はユーザーのアカウント状態を更新する。
func (r *PostgresUserRepo) UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error {
	return r.updateOne(ctx, "status",
		`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status),
	)
}

// MarkEmailVerified はemail_verified_atが未設定の場合のみ検証日時を記録する。
func (r *PostgresUserRepo) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET email_verified_at = $2, updated_at = now()
		 WHERE id = $1 AND email_verified_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return nil
}

// updateOne は1行を更新し、対象が存在しない場合はErrUserNotFoundを返す。
func (r *PostgresUserRepo) updateOne(ctx context.Context, column, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", column, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
