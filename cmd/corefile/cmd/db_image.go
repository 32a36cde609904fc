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
	"encoding/json"
	"fmt"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/catalog"
	"github.com/blacktop/corefile/internal/model"
	"github.com/blacktop/corefile/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	dbCmd.AddCommand(dbImageCmd)
	dbImageCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("db.image.json", dbImageCmd.Flags().Lookup("json"))
}

// dbImageCmd represents the db image command
var dbImageCmd = &cobra.Command{
	Use:   "image [<UUID>|<CORE> <VADDR>]",
	Short: "Look up a catalogued image by UUID or by address",
	Example: heredoc.Doc(`
		# Which image is this UUID?
		❯ corefile db image 1E653819-2B90-3F56-A464-D40FFA3B4A01
		# Which image covered this address when the core was written?
		❯ corefile db image /cores/core.1234 0x7fff90000420`),
	Args:          cobra.RangeArgs(1, 2),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		dbConn, err := openDatabase()
		if err != nil {
			return err
		}
		defer dbConn.Close()

		var img *model.Image
		if len(args) == 2 {
			addr, err := utils.ConvertStrToInt(args[1])
			if err != nil {
				return err
			}
			img, err = catalog.GetImageForAddr(args[0], addr, dbConn)
			if err != nil {
				return err
			}
		} else {
			img, err = catalog.GetImage(args[0], dbConn)
			if err != nil {
				return err
			}
		}

		if viper.GetBool("db.image.json") {
			j, err := json.Marshal(img)
			if err != nil {
				return err
			}
			fmt.Println(string(j))
			return nil
		}

		log.WithFields(log.Fields{
			"uuid": img.UUID,
			"addr": fmt.Sprintf("%#x", img.LoadAddress),
			"size": fmt.Sprintf("%#x", img.Size),
		}).Info(img.Path)

		return nil
	},
}
