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

	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/magic"
	"github.com/blacktop/corefile/internal/utils"
	"github.com/blacktop/corefile/pkg/corefile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(o2aCmd)
	o2aCmd.Flags().BoolP("dec", "d", false, "Return address in decimal")
	o2aCmd.Flags().BoolP("hex", "x", false, "Return address in hexadecimal")
}

// o2aCmd represents the o2a command
var o2aCmd = &cobra.Command{
	Use:           "o2a <CORE> <OFFSET>",
	Short:         "Convert file offset to virtual address",
	Args:          cobra.ExactArgs(2),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}

		inDec, _ := cmd.Flags().GetBool("dec")
		inHex, _ := cmd.Flags().GetBool("hex")

		if inDec && inHex {
			return fmt.Errorf("you can only use --dec OR --hex")
		}

		offset, err := utils.ConvertStrToInt(args[1])
		if err != nil {
			return err
		}

		corePath := filepath.Clean(args[0])
		if _, err := os.Stat(corePath); err != nil {
			return fmt.Errorf("file %s does not exist", corePath)
		}
		if ok, err := magic.IsCore(corePath); !ok {
			return err
		}

		f, err := corefile.Open(corePath)
		if err != nil {
			return err
		}
		defer f.Close()

		addr, err := f.GetVMAddress(offset)
		if err != nil {
			return err
		}

		if inDec {
			fmt.Printf("%d\n", addr)
		} else if inHex {
			fmt.Printf("%#x\n", addr)
		} else {
			var prot string
			if segs, err := f.Segments(); err == nil {
				for _, seg := range segs {
					if seg.Offset <= offset && offset < seg.Offset+seg.Filesz {
						prot = seg.Prot.String()
						break
					}
				}
			}
			log.WithFields(log.Fields{
				"hex":  fmt.Sprintf("%#x", addr),
				"dec":  fmt.Sprintf("%d", addr),
				"prot": prot,
			}).Info("Address")
		}

		return nil
	},
}
