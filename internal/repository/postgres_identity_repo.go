package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/servicehub/internal/model"
)

// PostgresIdentityRepo はPostgreSQLを使用した外部identityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
// 見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.ExternalIdentity, error) {
	var ext model.ExternalIdentity
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&ext.ID, &ext.UserID, &ext.Provider, &ext.ProviderUserID, &ext.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by provider: %w", err)
	}

	return &ext, nil
}

// ListByUserID はユーザーに紐づく外部identityを作成順に返す。
// 管理画面のユーザー詳細で連携済みIdPを表示するために使用する。
func (r *PostgresIdentityRepo) ListByUserID(ctx context.Context, userID string) ([]*model.ExternalIdentity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities
		 WHERE user_id = $1
		 ORDER BY created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer rows.Close()

	var result []*model.ExternalIdentity
	for rows.Next() {
		var ext model.ExternalIdentity
		if err := rows.Scan(&ext.ID, &ext.UserID, &ext.Provider, &ext.ProviderUserID, &ext.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		result = append(result, &ext)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identities: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
