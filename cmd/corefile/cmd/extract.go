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
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	corecmd "github.com/blacktop/corefile/internal/commands/core"
	"github.com/blacktop/corefile/internal/magic"
	"github.com/blacktop/corefile/internal/utils"
	"github.com/blacktop/corefile/pkg/corefile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().StringP("output", "o", "", "Output folder")
	extractCmd.MarkFlagDirname("output")
	extractCmd.Flags().StringP("image", "i", "", "Extract only images whose path contains this substring")
	extractCmd.Flags().StringP("dylinker", "d", "", "Known dylinker load address (skips scanning)")
	viper.BindPFlag("extract.output", extractCmd.Flags().Lookup("output"))
	viper.BindPFlag("extract.image", extractCmd.Flags().Lookup("image"))
	viper.BindPFlag("extract.dylinker", extractCmd.Flags().Lookup("dylinker"))
}

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:     "extract <CORE>",
	Aliases: []string{"e"},
	Short:   "Extract the loaded images out of a core dump as Mach-O files",
	Example: heredoc.Doc(`
		# Extract every image the core captured
		❯ corefile extract /cores/core.1234
		# Extract a single dylib
		❯ corefile extract --image libfoo.dylib --output /tmp/out /cores/core.1234`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		var conf corefile.Config
		if len(viper.GetString("extract.dylinker")) > 0 {
			addr, err := utils.ConvertStrToInt(viper.GetString("extract.dylinker"))
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

		output := corePath + ".extracted" // default to folder next to the core
		if len(viper.GetString("extract.output")) > 0 {
			output = viper.GetString("extract.output")
		}

		f, err := corefile.Open(corePath, conf)
		if err != nil {
			return err
		}
		defer f.Close()

		var filter func(string) bool
		pattern := viper.GetString("extract.image")
		if len(pattern) > 0 {
			filter = func(path string) bool {
				return strings.Contains(path, pattern)
			}
		}

		created, err := corecmd.ExtractImages(f, output, filter)
		if err != nil {
			return err
		}
		if len(created) == 0 && len(pattern) > 0 {
			log.Warnf("no images matched %q", pattern)
		}

		return nil
	},
}
