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
	"os"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/catalog"
	"github.com/blacktop/corefile/internal/colors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	dbCmd.AddCommand(dbImagesCmd)
	dbImagesCmd.Flags().StringP("like", "l", "", "Only show images whose path contains this substring")
	dbImagesCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	viper.BindPFlag("db.images.like", dbImagesCmd.Flags().Lookup("like"))
	viper.BindPFlag("db.images.json", dbImagesCmd.Flags().Lookup("json"))
}

// dbImagesCmd represents the db images command
var dbImagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Show which catalogued cores loaded a matching image",
	Example: heredoc.Doc(`
		# Which of my catalogued cores had libfoo loaded?
		❯ corefile db images --like libfoo.dylib
		# List everything in the catalog
		❯ corefile db images`),
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		force := viper.GetBool("color")
		colors.Init(&force)

		dbConn, err := openDatabase()
		if err != nil {
			return err
		}
		defer dbConn.Close()

		cores, err := catalog.Search(viper.GetString("db.images.like"), dbConn)
		if err != nil {
			return err
		}

		if viper.GetBool("db.images.json") {
			j, err := json.Marshal(cores)
			if err != nil {
				return err
			}
			fmt.Println(string(j))
			return nil
		}

		corePath := colors.Bold().SprintFunc()
		for _, core := range cores {
			fmt.Printf("%s (%s)\n", corePath(core.Path), core.CPU)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, img := range core.Images {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", colorAddr("%#x", img.LoadAddress), img.UUID, img.Path)
			}
			w.Flush()
		}

		return nil
	},
}
