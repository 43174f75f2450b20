package sqlite

// created_at is fixed-width RFC3339 text so lexical order is time order.
// version columns back the optimistic checks that stand in for row locks.
const schema = `
CREATE TABLE IF NOT EXISTS items (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT    NOT NULL,
    price      INTEGER NOT NULL DEFAULT 0,
    stock      INTEGER NOT NULL DEFAULT 10,
    category   TEXT,
    image_url  TEXT,
    store_id   INTEGER,
    version    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS options (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    name             TEXT    NOT NULL,
    price_adjustment INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS item_options (
    item_id   INTEGER NOT NULL REFERENCES items(id),
    option_id INTEGER NOT NULL REFERENCES options(id),
    PRIMARY KEY (item_id, option_id)
);

CREATE TABLE IF NOT EXISTS orders (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at     TEXT    NOT NULL,
    status         TEXT    NOT NULL DEFAULT 'pending',
    payment_method TEXT,
    age_group      TEXT,
    gender         TEXT,
    version        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS order_items (
    id       INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id INTEGER NOT NULL REFERENCES orders(id),
    item_id  INTEGER NOT NULL,
    quantity INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

CREATE TABLE IF NOT EXISTS order_item_options (
    order_item_id INTEGER NOT NULL REFERENCES order_items(id),
    option_id     INTEGER NOT NULL,
    PRIMARY KEY (order_item_id, option_id)
);
`
