/*
Copyright 2025 Saldo Authors.

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

	saldo "github.com/saldo-finance/saldo"
	"github.com/saldo-finance/saldo/config"
	"github.com/saldo-finance/saldo/database"
	"github.com/saldo-finance/saldo/internal/notification"
)

// Saldo represents the CLI application, encapsulating the root Cobra command.
type Saldo struct {
	cmd *cobra.Command
}

// saldoInstance holds the runtime Saldo instance and its configuration,
// shared by every subcommand.
type saldoInstance struct {
	saldo *saldo.Saldo
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the Saldo instance before any
// subcommand runs.
func preRun(app *saldoInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("saldo.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newSaldo, err := setupSaldo(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.saldo = newSaldo
		app.cnf = cnf

		return nil
	}
}

// setupSaldo connects the datasource and builds the service aggregate.
func setupSaldo(cfg *config.Configuration) (*saldo.Saldo, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newSaldo, err := saldo.NewSaldo(db)
	if err != nil {
		return nil, fmt.Errorf("error creating saldo: %v", err)
	}
	return newSaldo, nil
}

// NewCLI assembles the root command and its subcommands.
func NewCLI() *Saldo {
	var configFile string
	b := &saldoInstance{}

	var rootCmd = &cobra.Command{
		Use:   "saldo",
		Short: "payment provider integration core",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./saldo.json", "Configuration file for saldo")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(queueCommands(b))
	rootCmd.AddCommand(configCommands())

	return &Saldo{cmd: rootCmd}
}

func (w Saldo) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
