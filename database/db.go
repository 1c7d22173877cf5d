package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/saldo-finance/saldo/internal/cache"

	"github.com/saldo-finance/saldo/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
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
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			err = errCache
			return
		}
		instance = &Datasource{Conn: con, Cache: newCache}
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
	if err := CreateTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

// CreateTables bootstraps every table the core needs. Statements are
// idempotent so repeated starts are safe.
func CreateTables(db *sql.DB) error {
	if err := createQueueItemTable(db); err != nil {
		return err
	}
	if err := createSchedulerLeaseTable(db); err != nil {
		return err
	}
	if err := createAccountRequestTable(db); err != nil {
		return err
	}
	if err := createWebhookEventTable(db); err != nil {
		return err
	}
	if err := createOperationTypeTable(db); err != nil {
		return err
	}
	if err := createVirtualAccountTable(db); err != nil {
		return err
	}
	if err := createMovementTable(db); err != nil {
		return err
	}
	return nil
}

// createQueueItemTable creates a PostgreSQL table for the QueueItem struct.
// resource_key is a structured, indexed column so deduplication never scans
// serialized payloads.
func createQueueItemTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			id SERIAL PRIMARY KEY,
			queue_item_id TEXT NOT NULL UNIQUE,
			priority TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			method TEXT NOT NULL,
			resource_key TEXT NOT NULL,
			payload JSONB,
			meta_data JSONB,
			status TEXT NOT NULL,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL,
			next_retry_at TIMESTAMP,
			last_error TEXT,
			response JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_queue_items_lane ON queue_items (status, priority, created_at);
		CREATE INDEX IF NOT EXISTS idx_queue_items_resource ON queue_items (resource_key, status);
	`)
	if err != nil {
		log.Printf("Error creating queue_items table: %v", err)
	}
	return err
}

// createSchedulerLeaseTable creates the durable lease row used to serialize
// queue batch runs across instances.
func createSchedulerLeaseTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduler_leases (
			lease_name TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		log.Printf("Error creating scheduler_leases table: %v", err)
	}
	return err
}

// createAccountRequestTable creates a PostgreSQL table for the AccountRequest struct
func createAccountRequestTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS account_requests (
			id SERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE,
			owner_name TEXT NOT NULL,
			owner_document TEXT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			wallet_id TEXT,
			resumption_ref TEXT,
			rejection_reason TEXT,
			submitted_at TIMESTAMP,
			kyc_1_completed_at TIMESTAMP,
			kyc_initiated_at TIMESTAMP,
			completed_at TIMESTAMP,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_account_requests_wallet ON account_requests (wallet_id);
	`)
	if err != nil {
		log.Printf("Error creating account_requests table: %v", err)
	}
	return err
}

// createWebhookEventTable creates a PostgreSQL table for the WebhookEvent
// struct. event_id is unique: a redelivery is an insert no-op.
func createWebhookEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS webhook_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			category INT,
			wallet_id TEXT,
			transaction_ref TEXT,
			signature_state TEXT NOT NULL,
			raw_payload JSONB,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			processed_at TIMESTAMP,
			processing_error TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_events_wallet ON webhook_events (wallet_id);
	`)
	if err != nil {
		log.Printf("Error creating webhook_events table: %v", err)
	}
	return err
}

// createOperationTypeTable creates a PostgreSQL table for the OperationType struct
func createOperationTypeTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS operation_types (
			id SERIAL PRIMARY KEY,
			code TEXT NOT NULL UNIQUE,
			description TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			available_effect TEXT NOT NULL,
			blocked_effect TEXT NOT NULL,
			adjustment BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating operation_types table: %v", err)
	}
	return err
}

// createVirtualAccountTable creates a PostgreSQL table for the VirtualAccount struct
func createVirtualAccountTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS virtual_accounts (
			id SERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			request_id TEXT NOT NULL REFERENCES account_requests(request_id),
			currency TEXT NOT NULL,
			available_balance BIGINT NOT NULL DEFAULT 0,
			blocked_balance BIGINT NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_virtual_accounts_request ON virtual_accounts (request_id);
	`)
	if err != nil {
		log.Printf("Error creating virtual_accounts table: %v", err)
	}
	return err
}

// createMovementTable creates a PostgreSQL table for the Movement struct.
// Rows are immutable after insert; idempotency_key is unique when present.
func createMovementTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS movements (
			id SERIAL PRIMARY KEY,
			movement_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL REFERENCES virtual_accounts(account_id),
			operation_code TEXT NOT NULL REFERENCES operation_types(code),
			amount BIGINT NOT NULL,
			resulting_available BIGINT NOT NULL,
			resulting_blocked BIGINT NOT NULL,
			idempotency_key TEXT UNIQUE,
			origin TEXT,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_movements_account ON movements (account_id, created_at);
	`)
	if err != nil {
		log.Printf("Error creating movements table: %v", err)
	}
	return err
}
