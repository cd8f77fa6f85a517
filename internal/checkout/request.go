package checkout

import (
	"reflect"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// OrderRequest is what the admin order builder and the storefront checkout
// submit. Prices and totals are computed by the caller.
type OrderRequest struct {
	StoreID         string                  `json:"store_id" validate:"required"`
	OrderNumber     string                  `json:"order_number,omitempty"`
	CustomerID      *string                 `json:"customer_id,omitempty"`
	Customer        orders.CustomerSnapshot `json:"customer"`
	Items           []orders.LineItem       `json:"items" validate:"required,min=1,dive"`
	Breakdown       orders.Breakdown        `json:"breakdown"`
	Currency        string                  `json:"currency" validate:"required,len=3"`
	Status          orders.Status           `json:"status,omitempty"`
	PaymentStatus   orders.PaymentStatus    `json:"payment_status,omitempty"`
	PaymentMethod   string                  `json:"payment_method,omitempty"`
	DeliveryOption  string                  `json:"delivery_option,omitempty"`
	ShippingAddress *orders.Address         `json:"shipping_address,omitempty"`
	BillingAddress  *orders.Address         `json:"billing_address,omitempty"`
	Notes           string                  `json:"notes,omitempty"`
}

func newValidate() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// checkRequest runs the required-field checks. Customer name and phone and
// at least one line come first so the caller sees the most basic problem.
func checkRequest(v *validator.Validate, req OrderRequest, requireCustomer bool) error {
	switch {
	case strings.TrimSpace(req.Customer.Name) == "":
		return orders.Invalid("customer.name", "is required")
	case strings.TrimSpace(req.Customer.Phone) == "":
		return orders.Invalid("customer.phone", "is required")
	case len(req.Items) == 0:
		return orders.Invalid("items", "at least one line item is required")
	case requireCustomer && (req.CustomerID == nil || *req.CustomerID == ""):
		return orders.Invalid("customer_id", "is required for storefront checkout")
	}

	if err := v.Struct(req); err != nil {
		var fes validator.ValidationErrors
		if errors.As(err, &fes) && len(fes) > 0 {
			return fieldError(fes[0])
		}
		return orders.Invalid("", err.Error())
	}

	if f := req.Breakdown.Negative(); f != "" {
		return orders.Invalid("breakdown."+f, "must not be negative")
	}
	for _, it := range req.Items {
		if it.UnitPrice.IsNegative() || it.LineTotal.IsNegative() {
			return orders.Invalid("items", "price of "+it.Label()+" must not be negative")
		}
	}
	if req.Status != "" && !req.Status.Valid() {
		return orders.Invalid("status", "unknown status "+string(req.Status))
	}
	if req.PaymentStatus != "" && !req.PaymentStatus.Valid() {
		return orders.Invalid("payment_status", "unknown payment status "+string(req.PaymentStatus))
	}
	return nil
}

func fieldError(fe validator.FieldError) *orders.ValidationError {
	// Namespace is "OrderRequest.items[0].quantity"; drop the type name.
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "min":
		reason = "must have at least " + fe.Param() + " entry"
	case "gt":
		reason = "must be greater than " + fe.Param()
	case "len":
		reason = "must be " + fe.Param() + " characters"
	case "email":
		reason = "must be a valid email"
	default:
		reason = "failed " + fe.Tag() + " check"
	}
	return orders.Invalid(field, reason)
}
