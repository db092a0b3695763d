package store

const postgresSchema = `
CREATE TABLE IF NOT EXISTS retailers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	category   TEXT NOT NULL,
	logo_url   TEXT,
	scraped_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS flyers (
	id              TEXT PRIMARY KEY,
	retailer_id     TEXT NOT NULL REFERENCES retailers(id) ON DELETE CASCADE,
	title           TEXT NOT NULL,
	pages           INTEGER NOT NULL,
	valid_from      TIMESTAMPTZ NOT NULL,
	valid_until     TIMESTAMPTZ NOT NULL,
	published_from  TIMESTAMPTZ,
	published_until TIMESTAMPTZ,
	url             TEXT NOT NULL UNIQUE,
	content_id      TEXT,
	pdf_url         TEXT,
	thumbnail_url   TEXT,
	scraped_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	brand       TEXT,
	category    TEXT,
	description TEXT,
	image_url   TEXT
);

CREATE TABLE IF NOT EXISTS offers (
	id                  TEXT PRIMARY KEY,
	retailer_id         TEXT NOT NULL REFERENCES retailers(id) ON DELETE CASCADE,
	flyer_id            TEXT REFERENCES flyers(id) ON DELETE SET NULL,
	product_id          TEXT REFERENCES products(id) ON DELETE SET NULL,
	url                 TEXT NOT NULL UNIQUE,
	content_id          TEXT,
	parent_content_id   TEXT,
	product_name        TEXT NOT NULL,
	brand               TEXT,
	category            TEXT,
	description         TEXT,
	current_price       DOUBLE PRECISION NOT NULL,
	old_price           DOUBLE PRECISION,
	discount            DOUBLE PRECISION,
	discount_percentage DOUBLE PRECISION,
	unit_price          TEXT,
	price_formatted     TEXT,
	old_price_formatted TEXT,
	price_frequency     TEXT,
	price_conditions    TEXT,
	image_url           TEXT,
	image_alt           TEXT,
	image_title         TEXT,
	valid_from          TIMESTAMPTZ,
	valid_until         TIMESTAMPTZ,
	page_number         INTEGER,
	publisher_id        TEXT,
	scraped_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stores (
	id            TEXT PRIMARY KEY,
	retailer_id   TEXT NOT NULL REFERENCES retailers(id) ON DELETE CASCADE,
	address       TEXT NOT NULL,
	city          TEXT NOT NULL,
	postal_code   TEXT NOT NULL,
	latitude      DOUBLE PRECISION,
	longitude     DOUBLE PRECISION,
	phone         TEXT,
	opening_hours TEXT,
	UNIQUE (retailer_id, address)
);

CREATE TABLE IF NOT EXISTS scraping_logs (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ,
	items_scraped INTEGER NOT NULL DEFAULT 0,
	errors        TEXT,
	metadata      TEXT
);

CREATE INDEX IF NOT EXISTS idx_flyers_content_id ON flyers(content_id);
CREATE INDEX IF NOT EXISTS idx_flyers_retailer_id ON flyers(retailer_id);
CREATE INDEX IF NOT EXISTS idx_offers_content_id ON offers(content_id);
CREATE INDEX IF NOT EXISTS idx_offers_retailer_id ON offers(retailer_id);
CREATE INDEX IF NOT EXISTS idx_products_name ON products(name);
CREATE INDEX IF NOT EXISTS idx_scraping_logs_status ON scraping_logs(status, started_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS retailers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	category   TEXT NOT NULL,
	logo_url   TEXT,
	scraped_at DATETIME NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS flyers (
	id              TEXT PRIMARY KEY,
	retailer_id     TEXT NOT NULL REFERENCES retailers(id) ON DELETE CASCADE,
	title           TEXT NOT NULL,
	pages           INTEGER NOT NULL,
	valid_from      DATETIME NOT NULL,
	valid_until     DATETIME NOT NULL,
	published_from  DATETIME,
	published_until DATETIME,
	url             TEXT NOT NULL UNIQUE,
	content_id      TEXT,
	pdf_url         TEXT,
	thumbnail_url   TEXT,
	scraped_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	brand       TEXT,
	category    TEXT,
	description TEXT,
	image_url   TEXT
);

CREATE TABLE IF NOT EXISTS offers (
	id                  TEXT PRIMARY KEY,
	retailer_id         TEXT NOT NULL REFERENCES retailers(id) ON DELETE CASCADE,
	flyer_id            TEXT REFERENCES flyers(id) ON DELETE SET NULL,
	product_id          TEXT REFERENCES products(id) ON DELETE SET NULL,
	url                 TEXT NOT NULL UNIQUE,
	content_id          TEXT,
	parent_content_id   TEXT,
	product_name        TEXT NOT NULL,
	brand               TEXT,
	category            TEXT,
	description         TEXT,
	current_price       REAL NOT NULL,
	old_price           REAL,
	discount            REAL,
	discount_percentage REAL,
	unit_price          TEXT,
	price_formatted     TEXT,
	old_price_formatted TEXT,
	price_frequency     TEXT,
	price_conditions    TEXT,
	image_url           TEXT,
	image_alt           TEXT,
	image_title         TEXT,
	valid_from          DATETIME,
	valid_until         DATETIME,
	page_number         INTEGER,
	publisher_id        TEXT,
	scraped_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS stores (
	id            TEXT PRIMARY KEY,
	retailer_id   TEXT NOT NULL REFERENCES retailers(id) ON DELETE CASCADE,
	address       TEXT NOT NULL,
	city          TEXT NOT NULL,
	postal_code   TEXT NOT NULL,
	latitude      REAL,
	longitude     REAL,
	phone         TEXT,
	opening_hours TEXT,
	UNIQUE (retailer_id, address)
);

CREATE TABLE IF NOT EXISTS scraping_logs (
	id            TEXT PRIMARY KEY,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	items_scraped INTEGER NOT NULL DEFAULT 0,
	errors        TEXT,
	metadata      TEXT
);

CREATE INDEX IF NOT EXISTS idx_flyers_content_id ON flyers(content_id);
CREATE INDEX IF NOT EXISTS idx_flyers_retailer_id ON flyers(retailer_id);
CREATE INDEX IF NOT EXISTS idx_offers_content_id ON offers(content_id);
CREATE INDEX IF NOT EXISTS idx_offers_retailer_id ON offers(retailer_id);
CREATE INDEX IF NOT EXISTS idx_products_name ON products(name);
CREATE INDEX IF NOT EXISTS idx_scraping_logs_status ON scraping_logs(status, started_at);
`
