package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

type PaymentEventRepository interface {
	// 未処理なら記録して true、処理済みなら false
	MarkProcessed(ctx context.Context, ev model.PaymentEvent) (bool, error)
}
