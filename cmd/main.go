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

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/fundihq/fundi"
	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/database"
	"github.com/fundihq/fundi/internal/notification"
)

// CLI wraps the root Cobra command.
type CLI struct {
	cmd *cobra.Command
}

// appInstance holds the initialized service and its configuration for the
// subcommands.
type appInstance struct {
	fundi *fundi.Fundi
	cnf   *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

func preRun(app *appInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("fundi.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newFundi, err := setupFundi(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.fundi = newFundi
		app.cnf = cnf

		return nil
	}
}

func setupFundi(cfg *config.Configuration) (*fundi.Fundi, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newFundi, err := fundi.NewFundi(db)
	if err != nil {
		return nil, fmt.Errorf("error creating fundi: %v", err)
	}
	return newFundi, nil
}

func NewCLI() *CLI {
	var configFile string
	app := &appInstance{}

	var rootCmd = &cobra.Command{
		Use:   "fundi",
		Short: "Services marketplace core",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./fundi.json", "Configuration file for fundi")

	rootCmd.PersistentPreRunE = preRun(app)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))

	return &CLI{cmd: rootCmd}
}

func (c CLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
