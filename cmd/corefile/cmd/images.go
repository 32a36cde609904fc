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
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/colors"
	corecmd "github.com/blacktop/corefile/internal/commands/core"
	"github.com/blacktop/corefile/internal/magic"
	"github.com/blacktop/corefile/internal/utils"
	"github.com/blacktop/corefile/pkg/corefile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var colorAddr = colors.Faint().SprintfFunc()
var colorError = colors.Red().SprintfFunc()
var colorTime = colors.Faint().SprintFunc()

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	imagesCmd.Flags().BoolP("missing-ok", "m", false, "List images whose memory was not captured instead of failing")
	imagesCmd.Flags().StringP("dylinker", "d", "", "Known dylinker load address (skips scanning)")
	viper.BindPFlag("images.json", imagesCmd.Flags().Lookup("json"))
	viper.BindPFlag("images.missing-ok", imagesCmd.Flags().Lookup("missing-ok"))
	viper.BindPFlag("images.dylinker", imagesCmd.Flags().Lookup("dylinker"))
}

// imagesCmd represents the images command
var imagesCmd = &cobra.Command{
	Use:     "images <CORE>",
	Aliases: []string{"ls", "list"},
	Short:   "List the images loaded in a core dump",
	Example: heredoc.Doc(`
		# List every image dyld had loaded when the process crashed
		❯ corefile images /cores/core.1234
		# Keep going when an image's memory is missing from the core
		❯ corefile images --missing-ok /cores/core.1234
		# JSON output for scripting
		❯ corefile images --json /cores/core.1234`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		force := viper.GetBool("color")
		colors.Init(&force)

		var conf corefile.Config
		if len(viper.GetString("images.dylinker")) > 0 {
			addr, err := utils.ConvertStrToInt(viper.GetString("images.dylinker"))
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

		f, err := corefile.Open(corePath, conf)
		if err != nil {
			return err
		}
		defer f.Close()

		images, err := corecmd.GetImages(f, viper.GetBool("images.missing-ok"))
		if err != nil {
			return err
		}

		if viper.GetBool("images.json") {
			j, err := json.Marshal(images)
			if err != nil {
				return err
			}
			fmt.Println(string(j))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, img := range images {
			if len(img.Error) > 0 {
				fmt.Fprintf(w, "%4d: %s\t%s\t%s\n", img.Index, colorAddr("%#x", img.LoadAddress), img.Path, colorError("(%s)", img.Error))
				continue
			}
			if viper.GetBool("verbose") {
				var mod string
				if img.ModTime > 0 {
					mod = colorTime(time.Unix(img.ModTime, 0).Format("02Jan2006 15:04:05"))
				}
				fmt.Fprintf(w, "%4d: %s\t%s\t(%s)\t%s\t%s\n", img.Index, colorAddr("%#x", img.LoadAddress), img.UUID, img.Version, mod, img.Path)
			} else {
				fmt.Fprintf(w, "%4d: %s\t%s\n", img.Index, colorAddr("%#x", img.LoadAddress), img.Path)
			}
		}
		w.Flush()

		return nil
	},
}
