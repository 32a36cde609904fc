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
	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/catalog"
	"github.com/blacktop/corefile/internal/magic"
	"github.com/blacktop/corefile/internal/utils"
	"github.com/blacktop/corefile/pkg/corefile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	dbCmd.AddCommand(dbSaveCmd)
	dbSaveCmd.Flags().StringP("dylinker", "d", "", "Known dylinker load address (skips scanning)")
	viper.BindPFlag("db.save.dylinker", dbSaveCmd.Flags().Lookup("dylinker"))
}

// dbSaveCmd represents the db save command
var dbSaveCmd = &cobra.Command{
	Use:   "save <CORE>",
	Short: "Save a core dump's loaded images to the database",
	Example: heredoc.Doc(`
		# Catalog a core so its images can be looked up later
		❯ corefile db save /cores/core.1234`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		var conf corefile.Config
		if len(viper.GetString("db.save.dylinker")) > 0 {
			addr, err := utils.ConvertStrToInt(viper.GetString("db.save.dylinker"))
			if err != nil {
				return err
			}
			conf.DylinkerHint = addr
		}

		corePath := filepath.Clean(args[0])
		if _, err := os.Stat(corePath); err != nil {
			return fmt.Errorf("file %s does not exist", corePath)
		}
		if ok, err := magic.IsCore(corePath); !ok {
			return err
		}

		dbConn, err := openDatabase()
		if err != nil {
			return err
		}
		defer dbConn.Close()

		core, err := catalog.Scan(corePath, conf, dbConn)
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"images": len(core.Images),
			"cpu":    core.CPU,
		}).Infof("Catalogued %s", core.Path)

		return nil
	},
}
