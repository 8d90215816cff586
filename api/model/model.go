/*
Copyright 2025 Caterly Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func identityValidation(o *CreateOrder) validation.RuleFunc {
	return func(value interface{}) error {
		if o.CustomerID == "" && o.Email == "" {
			return errors.New("either customer_id or email is required")
		}
		return nil
	}
}

func (o *CreateOrder) ValidateCreateOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.Currency, validation.Required, validation.Length(3, 3)),
		validation.Field(&o.Items, validation.Required, validation.By(func(interface{}) error {
			for _, item := range o.Items {
				if item.ProductID == "" {
					return errors.New("every item needs a product_id")
				}
				if item.Quantity < 1 {
					return errors.New("every item needs a quantity of at least 1")
				}
				if item.UnitPrice < 0 {
					return errors.New("unit_price cannot be negative")
				}
			}
			return nil
		})),
		validation.Field(&o.CustomerID, validation.By(identityValidation(o))),
	)
}

func (w *InboundWebhook) ValidateInboundWebhook() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.Event, validation.Required),
	)
}
