package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/money"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const (
	listProductsSQL = `SELECT id, name, category, price, currency FROM products`

	upsertProductSQL = `INSERT INTO products (id, name, category, price, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, category = EXCLUDED.category,
			price = EXCLUDED.price, currency = EXCLUDED.currency, updated_at = now()`
)

// ProductRepository serves the product catalog used for scope matching.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Catalog loads every product into a read-only lookup.
func (r *ProductRepository) Catalog(ctx context.Context) (promotion.MapCatalog, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return promotion.NewMapCatalog(products...), nil
}

// Upsert inserts or updates products in one batch.
func (r *ProductRepository) Upsert(ctx context.Context, products ...promotion.Product) error {
	var batch pgx.Batch
	for _, p := range products {
		batch.Queue(upsertProductSQL, p.ID, p.Name, p.Category, p.Price.Amount(), p.Price.Currency())
	}
	if err := r.pool.SendBatch(ctx, &batch).Close(); err != nil {
		return errors.Wrap(err, "upsert products")
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (promotion.Product, error) {
	var (
		p        promotion.Product
		price    decimal.Decimal
		currency string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Category, &price, &currency)
	p.Price = money.New(price, currency)
	return p, err
}
