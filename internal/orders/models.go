package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// CustomerSnapshot is the contact info captured at order time.
type CustomerSnapshot struct {
	Name  string `json:"name" validate:"required"`
	Phone string `json:"phone" validate:"required"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// Breakdown holds the money fields of an order. Callers compute Total.
type Breakdown struct {
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	Discount          decimal.Decimal `json:"discount"`
	AdditionalCharges decimal.Decimal `json:"additional_charges"`
	DeliveryCost      decimal.Decimal `json:"delivery_cost"`
	Total             decimal.Decimal `json:"total"`
}

// ExpectedTotal is subtotal - discount + delivery + tax + additional charges.
func (b Breakdown) ExpectedTotal() decimal.Decimal {
	return b.Subtotal.Sub(b.Discount).Add(b.DeliveryCost).Add(b.Tax).Add(b.AdditionalCharges)
}

func (b Breakdown) Consistent() bool {
	return b.Total.Equal(b.ExpectedTotal())
}

// Negative returns the name of the first negative field, or "".
func (b Breakdown) Negative() string {
	fields := []struct {
		name string
		v    decimal.Decimal
	}{
		{"subtotal", b.Subtotal},
		{"tax", b.Tax},
		{"discount", b.Discount},
		{"additional_charges", b.AdditionalCharges},
		{"delivery_cost", b.DeliveryCost},
		{"total", b.Total},
	}
	for _, f := range fields {
		if f.v.IsNegative() {
			return f.name
		}
	}
	return ""
}

type Order struct {
	ID              string           `json:"id"`
	OrderNumber     string           `json:"order_number"`
	StoreID         string           `json:"store_id"`
	CustomerID      *string          `json:"customer_id,omitempty"`
	Customer        CustomerSnapshot `json:"customer"`
	Breakdown       Breakdown        `json:"breakdown"`
	Currency        string           `json:"currency"`
	Status          Status           `json:"status"`
	PaymentStatus   PaymentStatus    `json:"payment_status"`
	PaymentMethod   string           `json:"payment_method,omitempty"`
	DeliveryOption  string           `json:"delivery_option,omitempty"`
	ShippingAddress *Address         `json:"shipping_address,omitempty"`
	BillingAddress  *Address         `json:"billing_address,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

// VariantSnapshot freezes the variant attributes shown to the buyer.
type VariantSnapshot struct {
	Name            string           `json:"name"`
	Color           string           `json:"color,omitempty"`
	BasePrice       decimal.Decimal  `json:"base_price"`
	DiscountedPrice *decimal.Decimal `json:"discounted_price,omitempty"`
}

type LineItem struct {
	ID        string           `json:"id,omitempty"`
	OrderID   string           `json:"order_id,omitempty"`
	ProductID string           `json:"product_id" validate:"required"`
	VariantID *string          `json:"variant_id,omitempty"`
	Name      string           `json:"name"`
	Variant   *VariantSnapshot `json:"variant,omitempty"`
	Quantity  int              `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	LineTotal decimal.Decimal  `json:"line_total"`

	// Set by the store; ignored on input.
	StockState StockState `json:"stock_state,omitempty"`
}

// TargetsVariant reports whether the line draws on variant-level stock.
func (li LineItem) TargetsVariant() bool {
	return li.VariantID != nil && *li.VariantID != ""
}

// Label is the name used in messages about this line.
func (li LineItem) Label() string {
	if li.Name != "" {
		return li.Name
	}
	return li.ProductID
}

func (li LineItem) ExpectedLineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type InventoryRecord struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	VariantID         *string   `json:"variant_id,omitempty"`
	QuantityAvailable int       `json:"quantity_available"`
	QuantityReserved  int       `json:"quantity_reserved"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (r InventoryRecord) Counters() Counters {
	return Counters{Available: r.QuantityAvailable, Reserved: r.QuantityReserved}
}
