package model

import (
	"github.com/caterly/storefront/model"
)

type CreateOrder struct {
	CustomerID string                 `json:"customer_id"`
	Email      string                 `json:"email"`
	Currency   string                 `json:"currency"`
	Items      []OrderItem            `json:"items"`
	MetaData   map[string]interface{} `json:"meta_data"`
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type CancelOrder struct {
	Reason string `json:"reason"`
}

type InboundWebhook struct {
	Event string                 `json:"event"`
	Data  map[string]interface{} `json:"data"`
}

// ToCart converts the request items into domain cart items.
func (o *CreateOrder) ToCart() []model.CartItem {
	cart := make([]model.CartItem, 0, len(o.Items))
	for _, item := range o.Items {
		cart = append(cart, model.CartItem{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return cart
}
