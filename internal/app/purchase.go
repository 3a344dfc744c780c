/**
 * @description
 * Product catalog management and purchases debited from the buyer's balance.
 */

package app

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

// Purchase debits the buyer by the product's price in a single mutation.
func (s *Service) Purchase(ctx context.Context, buyerID, productID int64) (*domain.PurchaseResult, error) {
	product, err := s.repo.FindProductByID(ctx, productID)
	if err != nil {
		return nil, storageFailure(err)
	}

	pid := product.ID
	res, err := s.ApplyMutation(ctx, domain.Mutation{
		AccountID:   buyerID,
		Kind:        domain.KindDebit,
		Amount:      product.Price,
		Description: "Purchased " + product.Name,
		ProductID:   &pid,
	})
	if err != nil {
		return nil, err
	}
	return &domain.PurchaseResult{Product: product, NewBalance: res.NewBalance, Record: res.Record}, nil
}

// AddProduct registers a catalog item.
func (s *Service) AddProduct(ctx context.Context, name string, price decimal.Decimal, description string) (*domain.Product, error) {
	name = strings.TrimSpace(name)
	if name == "" || !domain.ValidAmount(price) {
		return nil, domain.ErrInvalidProduct
	}
	product, err := s.repo.CreateProduct(ctx, &domain.Product{
		Name:        name,
		Price:       price,
		Description: strings.TrimSpace(description),
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	return product, nil
}

// ListProducts returns catalog items newest first.
func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, filter.Normalize())
	if err != nil {
		return nil, storageFailure(err)
	}
	return products, nil
}
