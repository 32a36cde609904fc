/*
Copyright © 2022-2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/blacktop/corefile/internal/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.PersistentFlags().String("driver", "sqlite", "Database driver to use (sqlite, postgres or memory)")
	dbCmd.PersistentFlags().String("database", "", "Path to the database file")
	viper.BindPFlag("db.driver", dbCmd.PersistentFlags().Lookup("driver"))
	viper.BindPFlag("db.database", dbCmd.PersistentFlags().Lookup("database"))
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.name", "corefile")
}

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Catalog core dumps in a database",
	Example: heredoc.Doc(`
		# Catalog a core in the default sqlite database
		❯ corefile db save /cores/core.1234
		# Query a shared postgres catalog (db.user/db.password come from the config file)
		❯ corefile db --driver postgres images --like libfoo`),
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// openDatabase connects to the database selected by the db flags, creating
// the file-backed drivers' directory on first use.
func openDatabase() (db.Database, error) {
	var conn db.Database
	var err error
	switch driver := viper.GetString("db.driver"); driver {
	case "sqlite", "memory":
		dbPath := viper.GetString("db.database")
		if len(dbPath) == 0 {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			if driver == "memory" {
				dbPath = filepath.Join(home, ".config", "corefile", "corefile.gob")
			} else {
				dbPath = filepath.Join(home, ".config", "corefile", "corefile.db")
			}
		}
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %v", err)
		}
		if driver == "sqlite" {
			conn, err = db.NewSqlite(dbPath, 1000)
		} else {
			conn, err = db.NewInMemory(dbPath)
		}
	case "postgres":
		conn, err = db.NewPostgres(
			viper.GetString("db.host"),
			viper.GetString("db.port"),
			viper.GetString("db.user"),
			viper.GetString("db.password"),
			viper.GetString("db.name"),
		)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return conn, nil
}
