package model

import (
	"encoding/json"
	"time"
)

// Order statuses.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusFulfilled = "FULFILLED"
)

// Payment statuses.
const (
	PaymentPending = "PENDING"
	PaymentPaid    = "PAID"
	PaymentFailed  = "FAILED"
)

// Machine-readable cancellation reason written by the stale-order sweep.
const CancellationReasonStale = "stale_pending_auto_cancelled"

// Order is the unit of work the concurrency core guards. The lock fields
// (LockHolder, LockExpiresAt) together with TrackingNumber are only ever
// written through the lease conditional-update path.
type Order struct {
	ID                 int64                  `json:"-"`
	OrderID            string                 `json:"id"`
	CustomerID         string                 `json:"customer_id,omitempty"`
	Email              string                 `json:"email,omitempty"`
	TotalAmount        int64                  `json:"total_amount"`
	Currency           string                 `json:"currency"`
	Status             string                 `json:"status"`
	PaymentStatus      string                 `json:"payment_status"`
	PaymentURL         string                 `json:"payment_url,omitempty"`
	PaymentExpiresAt   *time.Time             `json:"payment_expires_at,omitempty"`
	RetryCount         int                    `json:"retry_count"`
	LastRetryAt        *time.Time             `json:"last_retry_at,omitempty"`
	LockHolder         *string                `json:"lock_holder,omitempty"`
	LockExpiresAt      *time.Time             `json:"lock_expires_at,omitempty"`
	TrackingNumber     *string                `json:"tracking_number,omitempty"`
	CancellationReason string                 `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
	Items              []OrderItem            `json:"items,omitempty"`
}

// OrderItem is a persisted line item on an order.
type OrderItem struct {
	ID        int64  `json:"-"`
	OrderID   string `json:"-"`
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// CartItem is an inbound, not-yet-persisted line item.
type CartItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// HasLabel reports whether the guarded label operation already completed.
// A populated tracking number makes any lease on the order moot.
func (o *Order) HasLabel() bool {
	return o.TrackingNumber != nil && *o.TrackingNumber != ""
}

// Age returns how long ago the order was created.
func (o *Order) Age() time.Duration {
	return time.Since(o.CreatedAt)
}

func (o *Order) ToJSON() ([]byte, error) {
	return json.Marshal(o)
}

// LeaseInfo is the observable state of an order's label lease. Active is
// computed against the clock at read time rather than trusted from storage.
type LeaseInfo struct {
	Holder    *string    `json:"holder,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

// Lease acquisition outcomes for losers.
const (
	LeaseReasonAlreadyHasLabel = "already_has_label"
	LeaseReasonAlreadyLocked   = "already_locked"
	LeaseReasonLostRace        = "lost_race"
)

// LeaseResult reports the outcome of a lease acquisition attempt. Losing the
// slot is an expected outcome carried in Reason, not an error.
type LeaseResult struct {
	Acquired  bool       `json:"acquired"`
	LockID    string     `json:"lock_id,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Holder    *string    `json:"holder,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
