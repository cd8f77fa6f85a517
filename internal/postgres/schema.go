package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Base-product rows (variant_id IS NULL) are deliberately not unique:
// upstream imports have produced duplicates and lookups tolerate them.
const schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS orders (
	id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	order_number       TEXT NOT NULL,
	store_id           TEXT NOT NULL,
	customer_id        TEXT,
	customer_name      TEXT NOT NULL,
	customer_phone     TEXT NOT NULL,
	customer_email     TEXT NOT NULL DEFAULT '',
	subtotal           NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (subtotal >= 0),
	tax                NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (tax >= 0),
	discount           NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (discount >= 0),
	additional_charges NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (additional_charges >= 0),
	delivery_cost      NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (delivery_cost >= 0),
	total              NUMERIC(14,2) NOT NULL DEFAULT 0 CHECK (total >= 0),
	currency           TEXT NOT NULL,
	status             TEXT NOT NULL,
	payment_status     TEXT NOT NULL,
	payment_method     TEXT NOT NULL DEFAULT '',
	delivery_option    TEXT NOT NULL DEFAULT '',
	shipping_address   JSONB,
	billing_address    JSONB,
	notes              TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (store_id, order_number)
);

CREATE TABLE IF NOT EXISTS order_items (
	id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	order_id    UUID NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
	product_id  TEXT NOT NULL,
	variant_id  TEXT,
	name        TEXT NOT NULL,
	variant     JSONB,
	quantity    INT NOT NULL CHECK (quantity > 0),
	unit_price  NUMERIC(14,2) NOT NULL,
	line_total  NUMERIC(14,2) NOT NULL,
	stock_state TEXT NOT NULL DEFAULT 'pending' CHECK (stock_state IN ('pending', 'reserved', 'released'))
);
ALTER TABLE order_items ADD COLUMN IF NOT EXISTS stock_state TEXT NOT NULL DEFAULT 'pending';
CREATE INDEX IF NOT EXISTS order_items_order_id_idx ON order_items(order_id);

CREATE TABLE IF NOT EXISTS inventory (
	id                 UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	product_id         TEXT NOT NULL,
	variant_id         TEXT,
	quantity_available INT NOT NULL DEFAULT 0 CHECK (quantity_available >= 0),
	quantity_reserved  INT NOT NULL DEFAULT 0 CHECK (quantity_reserved >= 0),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS inventory_variant_uidx ON inventory(variant_id) WHERE variant_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS inventory_product_idx ON inventory(product_id) WHERE variant_id IS NULL;
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return errors.Wrap(err, "migrate")
}
