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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/caterly/storefront"
	"github.com/caterly/storefront/config"
	"github.com/caterly/storefront/database"
	"github.com/caterly/storefront/internal/notification"
)

// CLI wraps the root Cobra command for the storefront binary.
type CLI struct {
	cmd *cobra.Command
}

// storefrontInstance holds the runtime instance and its configuration so
// subcommands can share a single datasource and breaker registry.
type storefrontInstance struct {
	storefront *storefront.Storefront
	cnf        *config.Configuration
}

// recoverPanic logs any panic during command execution and exits non-zero.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the storefront instance
// before any subcommand runs.
func preRun(app *storefrontInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("caterly.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newStorefront, err := setupStorefront(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.storefront = newStorefront
		app.cnf = cnf

		return nil
	}
}

// setupStorefront connects the datasource and builds the storefront facade.
func setupStorefront(cfg *config.Configuration) (*storefront.Storefront, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newStorefront, err := storefront.NewStorefront(db)
	if err != nil {
		return nil, fmt.Errorf("error creating storefront: %v", err)
	}
	return newStorefront, nil
}

// NewCLI builds the command-line interface for the storefront application,
// wiring the server, worker, migration and config subcommands.
func NewCLI() *CLI {
	var configFile string
	b := &storefrontInstance{}

	var rootCmd = &cobra.Command{
		Use:   "storefront",
		Short: "Caterly ordering core",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./caterly.json", "Configuration file for the storefront")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands())

	return &CLI{cmd: rootCmd}
}

func (w CLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
