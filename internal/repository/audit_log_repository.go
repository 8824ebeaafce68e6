package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

// 監査ログの絞り込み（空の項目は条件にしない）
type AuditLogFilter struct {
	ResourceType model.AuditResourceType
	ResourceID   string
	Action       model.AuditAction
	Limit        int
}

type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	// 古い順（注文の履歴表示に使う）
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, error)
}
