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

package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/database"
)

// migrateCommands creates the root command for schema management.
func migrateCommands(_ *storefrontInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "start storefront migration",
	}

	cmd.AddCommand(migrateUpCommands())
	cmd.AddCommand(migrateDownCommands())

	return cmd
}

func openMigrationDB() (*sql.DB, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, fmt.Errorf("error fetching config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DataSource.Dns)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to database: %v", err)
	}
	return db, nil
}

// migrateUpCommands creates the command for applying the schema.
func migrateUpCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "up",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := openMigrationDB()
			if err != nil {
				log.Fatal(err)
			}
			defer db.Close()

			if err := database.CreateSchema(db); err != nil {
				log.Fatalf("Error applying schema: %v", err)
			}

			fmt.Println("Schema applied successfully")
		},
	}
	return cmd
}

// migrateDownCommands creates the command for dropping the schema.
func migrateDownCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use: "down",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := openMigrationDB()
			if err != nil {
				log.Fatal(err)
			}
			defer db.Close()

			if err := database.DropSchema(db); err != nil {
				log.Fatalf("Error dropping schema: %v", err)
			}

			fmt.Println("Schema dropped successfully")
		},
	}
	return cmd
}
