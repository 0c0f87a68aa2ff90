/*
Copyright 2024 Fundi Authors.

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

package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/lib/pq"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/cache"
)

var instance *Datasource
var once sync.Once

// isDuplicateKey reports whether the error is a postgres unique violation.
func isDuplicateKey(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

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
		newCache, cacheErr := cache.NewCache()
		if cacheErr != nil {
			log.Printf("cache unavailable, queries go straight to the database: %v", cacheErr)
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
		log.Printf("database connection error: %v", err)
		return nil, err
	}
	for _, create := range []func(*sql.DB) error{
		createWalletTable,
		createTransactionTable,
		createConversationTable,
		createMessageTable,
		createReceiptTables,
		createOfferTable,
		createPaymentTable,
		createJobTables,
	} {
		if err := create(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func createWalletTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS wallets (
			id SERIAL PRIMARY KEY,
			wallet_id TEXT NOT NULL UNIQUE,
			user_uuid TEXT NOT NULL,
			user_type TEXT NOT NULL,
			total_balance NUMERIC(20,2) NOT NULL DEFAULT 0,
			available_balance NUMERIC(20,2) NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMP,
			UNIQUE (user_uuid, user_type)
		)
	`)
	if err != nil {
		log.Printf("Error creating wallets table: %v", err)
	}
	return err
}

func createTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			wallet_id TEXT NOT NULL REFERENCES wallets(wallet_id),
			type TEXT NOT NULL CHECK (type IN ('credit', 'debit')),
			amount NUMERIC(20,2) NOT NULL CHECK (amount > 0),
			remark TEXT,
			job_id TEXT,
			payment_id TEXT,
			reference TEXT,
			status TEXT NOT NULL,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			locked_at TIMESTAMP,
			released_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating transactions table: %v", err)
	}
	return err
}

func createConversationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id SERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE,
			requestor_uuid TEXT NOT NULL,
			provider_uuid TEXT NOT NULL,
			locked BOOLEAN NOT NULL DEFAULT FALSE,
			restricted BOOLEAN NOT NULL DEFAULT FALSE,
			cancellation_chances INT NOT NULL DEFAULT 3,
			last_message_id TEXT,
			blocked_by TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			deleted_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating conversations table: %v", err)
	}
	return err
}

func createMessageTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id SERIAL PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
			sender_uuid TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating messages table: %v", err)
	}
	return err
}

func createReceiptTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS message_receipts (
			id SERIAL PRIMARY KEY,
			message_id TEXT NOT NULL REFERENCES messages(message_id),
			user_uuid TEXT NOT NULL,
			delivered_at TIMESTAMP,
			read_at TIMESTAMP,
			UNIQUE (message_id, user_uuid)
		)
	`)
	if err != nil {
		log.Printf("Error creating message_receipts table: %v", err)
		return err
	}
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_read_states (
			id SERIAL PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
			user_uuid TEXT NOT NULL,
			last_read_at TIMESTAMP,
			unread_count INT NOT NULL DEFAULT 0,
			UNIQUE (conversation_id, user_uuid)
		)
	`)
	if err != nil {
		log.Printf("Error creating conversation_read_states table: %v", err)
	}
	return err
}

func createOfferTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS offers (
			id SERIAL PRIMARY KEY,
			offer_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
			sender_uuid TEXT NOT NULL,
			price NUMERIC(20,2) NOT NULL CHECK (price > 0),
			status TEXT NOT NULL,
			current_offer_id TEXT,
			reason TEXT,
			reason_category TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating offers table: %v", err)
	}
	return err
}

func createPaymentTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS payments (
			id SERIAL PRIMARY KEY,
			payment_id TEXT NOT NULL UNIQUE,
			reference TEXT NOT NULL UNIQUE,
			user_uuid TEXT NOT NULL,
			user_type TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL,
			currency TEXT NOT NULL,
			purpose TEXT NOT NULL CHECK (purpose IN ('fund_wallet', 'job_offer')),
			offer_id TEXT,
			status TEXT NOT NULL,
			meta_data JSONB,
			processed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating payments table: %v", err)
	}
	return err
}

func createJobTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL UNIQUE,
			request_id TEXT NOT NULL UNIQUE,
			offer_id TEXT NOT NULL REFERENCES offers(offer_id),
			conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
			payment_id TEXT NOT NULL,
			requestor_uuid TEXT NOT NULL,
			provider_uuid TEXT NOT NULL,
			price NUMERIC(20,2) NOT NULL,
			tip NUMERIC(20,2) NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			code TEXT NOT NULL,
			review_id TEXT,
			dispute_id TEXT,
			cancel_reason TEXT,
			cancel_reason_category TEXT,
			canceled_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating jobs table: %v", err)
		return err
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS job_timelines (
			id SERIAL PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(job_id),
			event TEXT NOT NULL,
			actor_uuid TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS job_disputes (
			id SERIAL PRIMARY KEY,
			dispute_id TEXT NOT NULL UNIQUE,
			job_id TEXT NOT NULL REFERENCES jobs(job_id),
			raised_by_uuid TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS job_reviews (
			id SERIAL PRIMARY KEY,
			review_id TEXT NOT NULL UNIQUE,
			job_id TEXT NOT NULL REFERENCES jobs(job_id),
			rater_uuid TEXT NOT NULL,
			rating INT NOT NULL CHECK (rating BETWEEN 1 AND 5),
			comment TEXT,
			tip NUMERIC(20,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS job_reports (
			id SERIAL PRIMARY KEY,
			report_id TEXT NOT NULL UNIQUE,
			job_id TEXT NOT NULL REFERENCES jobs(job_id),
			reporter_uuid TEXT NOT NULL,
			reason TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			log.Printf("Error creating job satellite table: %v", err)
			return err
		}
	}
	return nil
}
