package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type ProductUsecase struct {
	productRepo repo.ProductRepository
	tx          repo.TransactionManager
	clock       Clock
}

// DI
func NewProductUsecase(productRepo repo.ProductRepository, tx repo.TransactionManager, clock Clock) *ProductUsecase {
	return &ProductUsecase{
		productRepo: productRepo,
		tx:          tx,
		clock:       clock,
	}
}

// GET /productsの入力DTO
type ListProductsInput struct {
	Page     int
	Limit    int
	Q        string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Sort     string
}

type ProductListOutput struct {
	Items []model.Product `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListPublicProducts(ctx context.Context, in ListProductsInput) (ProductListOutput, error) {
	if in.Page < 1 {
		return ProductListOutput{}, errValidation("invalid page")
	}
	if in.Limit < 1 || in.Limit > 100 {
		return ProductListOutput{}, errValidation("invalid limit")
	}
	if len(in.Q) > 100 {
		return ProductListOutput{}, errValidation("q too long")
	}
	if in.MinPrice != nil && in.MinPrice.IsNegative() {
		return ProductListOutput{}, errValidation("min_price must be >= 0")
	}
	if in.MaxPrice != nil && in.MaxPrice.IsNegative() {
		return ProductListOutput{}, errValidation("max_price must be >= 0")
	}
	if in.MinPrice != nil && in.MaxPrice != nil && in.MinPrice.GreaterThan(*in.MaxPrice) {
		return ProductListOutput{}, errValidation("min_price must be <= max_price")
	}
	switch in.Sort {
	case "", "new", "price_asc", "price_desc":
	default:
		return ProductListOutput{}, errValidation("invalid sort")
	}

	items, total, err := u.productRepo.ListPublic(ctx, repo.ProductListQuery{
		Page:     in.Page,
		Limit:    in.Limit,
		Q:        strings.TrimSpace(in.Q),
		MinPrice: in.MinPrice,
		MaxPrice: in.MaxPrice,
		Sort:     in.Sort,
	})
	if err != nil {
		return ProductListOutput{}, errInternal(err)
	}

	return ProductListOutput{
		Items: items,
		Total: total,
		Page:  in.Page,
		Limit: in.Limit,
	}, nil
}

func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (model.Product, error) {
	if productID <= 0 {
		return model.Product{}, errValidation("invalid product id")
	}

	p, err := u.productRepo.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, errNotFound("product %d not found", productID)
	}
	if err != nil {
		return model.Product{}, errInternal(err)
	}

	//非公開は存在しない扱い
	if !p.IsActive {
		return model.Product{}, errNotFound("product %d not found", productID)
	}
	return p, nil
}

type AdminProductInput struct {
	Name          string
	Description   string
	Image         string
	Price         decimal.Decimal
	DiscountPrice *decimal.Decimal
	DiscountUntil *time.Time
	Stock         int64
	IsDigital     bool
	IsActive      bool
}

func validateProductInput(in AdminProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return errValidation("name required")
	}
	if in.Price.IsNegative() {
		return errValidation("price must be >= 0")
	}
	if in.Stock < 0 {
		return errValidation("stock must be >= 0")
	}
	if in.DiscountPrice != nil {
		if in.DiscountPrice.IsNegative() || in.DiscountPrice.GreaterThan(in.Price) {
			return errValidation("discountPrice must be between 0 and price")
		}
		if in.DiscountUntil == nil {
			return errValidation("discountUntil required with discountPrice")
		}
	}
	return nil
}

func (u *ProductUsecase) AdminCreateProduct(ctx context.Context, adminUserID int64, in AdminProductInput) (model.Product, error) {
	if adminUserID <= 0 {
		return model.Product{}, errUnauthorized()
	}
	if err := validateProductInput(in); err != nil {
		return model.Product{}, err
	}

	now := u.clock.Now()
	p, err := u.productRepo.Create(ctx, model.Product{
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Image:         in.Image,
		Price:         in.Price.Round(2),
		DiscountPrice: in.DiscountPrice,
		DiscountUntil: in.DiscountUntil,
		Stock:         in.Stock,
		InStock:       in.IsDigital || in.Stock > 0,
		IsDigital:     in.IsDigital,
		IsActive:      in.IsActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return model.Product{}, errInternal(err)
	}
	log.Info().Int64("product_id", p.ID).Int64("admin_id", adminUserID).Msg("product created")
	return p, nil
}

// 在庫は更新しない（在庫は AdminUpdateInventory）
func (u *ProductUsecase) AdminUpdateProduct(ctx context.Context, adminUserID int64, productID int64, in AdminProductInput) error {
	if adminUserID <= 0 {
		return errUnauthorized()
	}
	if productID <= 0 {
		return errValidation("invalid product id")
	}
	if err := validateProductInput(in); err != nil {
		return err
	}

	err := u.productRepo.Update(ctx, model.Product{
		ID:            productID,
		Name:          strings.TrimSpace(in.Name),
		Description:   in.Description,
		Image:         in.Image,
		Price:         in.Price.Round(2),
		DiscountPrice: in.DiscountPrice,
		DiscountUntil: in.DiscountUntil,
		IsDigital:     in.IsDigital,
		IsActive:      in.IsActive,
	})
	if errors.Is(err, repo.ErrNotFound) {
		return errNotFound("product %d not found", productID)
	}
	if err != nil {
		return errInternal(err)
	}
	return nil
}

func (u *ProductUsecase) AdminDeleteProduct(ctx context.Context, adminUserID int64, productID int64) error {
	if adminUserID <= 0 {
		return errUnauthorized()
	}
	if productID <= 0 {
		return errValidation("invalid product id")
	}

	err := u.productRepo.SoftDelete(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return errNotFound("product %d not found", productID)
	}
	if err != nil {
		return errInternal(err)
	}
	return nil
}

// 在庫の設定・調整履歴・監査ログを1つのトランザクションで行う
func (u *ProductUsecase) AdminUpdateInventory(ctx context.Context, adminUserID int64, productID int64, newStock int64, reason string) error {
	if adminUserID <= 0 {
		return errUnauthorized()
	}
	if productID <= 0 {
		return errValidation("invalid product id")
	}
	if newStock < 0 {
		return errValidation("stock must be >= 0")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errValidation("reason required")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//変更前の在庫（before）
		p, err := r.Products().FindByID(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return errNotFound("product %d not found", productID)
		}
		if err != nil {
			return errInternal(err)
		}
		if p.IsDigital {
			return errValidation("digital products have no stock")
		}

		if err := r.Inventory().SetStock(ctx, productID, newStock); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return errNotFound("product %d not found", productID)
			}
			return errInternal(err)
		}

		now := u.clock.Now()
		adj := model.NewStockAdjustment(productID, adminUserID, p.Stock, newStock, reason, now)
		if err := r.Inventory().CreateAdjustment(ctx, adj); err != nil {
			return errInternal(err)
		}

		//「誰が」「何を」「どの対象に」「どう変えたか」を残す
		return writeAudit(ctx, r, adminUserID, model.AuditActionUpdateStock, model.AuditResourceProduct,
			strconv.FormatInt(productID, 10),
			map[string]any{"stock": p.Stock}, map[string]any{"stock": newStock, "reason": reason}, now)
	})
}
