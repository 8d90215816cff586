package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		orderCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("order cache disabled: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: orderCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = CreateSchema(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// CreateSchema creates the order tables and supporting indexes. The lease
// fields (lock_holder, lock_expires_at) live on the orders row itself so a
// lease expires with the row's own state and stays transactional with
// tracking_number.
func CreateSchema(db *sql.DB) error {
	err := createOrderTable(db)
	if err != nil {
		return err
	}
	return createOrderItemTable(db)
}

// createOrderTable creates a PostgreSQL table for the Order struct
func createOrderTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			customer_id TEXT,
			email TEXT,
			total_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			payment_status TEXT NOT NULL,
			payment_url TEXT,
			payment_expires_at TIMESTAMPTZ,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_retry_at TIMESTAMPTZ,
			lock_holder TEXT,
			lock_expires_at TIMESTAMPTZ,
			tracking_number TEXT,
			cancellation_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			meta_data JSONB
		)
	`)
	if err != nil {
		log.Printf("Error creating orders table: %v", err)
		return err
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_orders_pending_window
		ON orders (customer_id, email, created_at)
		WHERE status = 'PENDING'
	`)
	if err != nil {
		log.Printf("Error creating orders index: %v", err)
	}
	return err
}

// createOrderItemTable creates a PostgreSQL table for the OrderItem struct
func createOrderItemTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(order_id),
			product_id TEXT NOT NULL,
			variant_id TEXT NOT NULL DEFAULT 'default',
			quantity INTEGER NOT NULL,
			unit_price BIGINT NOT NULL
		)
	`)
	if err != nil {
		log.Printf("Error creating order_items table: %v", err)
	}
	return err
}

// DropSchema removes the order tables. Used by the migrate down command.
func DropSchema(db *sql.DB) error {
	_, err := db.Exec(`DROP TABLE IF EXISTS order_items`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`DROP TABLE IF EXISTS orders`)
	return err
}
