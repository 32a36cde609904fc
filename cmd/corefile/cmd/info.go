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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/corefile/internal/colors"
	corecmd "github.com/blacktop/corefile/internal/commands/core"
	"github.com/blacktop/corefile/internal/magic"
	"github.com/blacktop/corefile/internal/utils"
	"github.com/blacktop/corefile/pkg/corefile"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	infoCmd.Flags().StringP("dylinker", "d", "", "Known dylinker load address (skips scanning)")
	viper.BindPFlag("info.json", infoCmd.Flags().Lookup("json"))
	viper.BindPFlag("info.dylinker", infoCmd.Flags().Lookup("dylinker"))
}

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:     "info <CORE>",
	Aliases: []string{"i"},
	Short:   "Display Mach-O core dump info",
	Example: heredoc.Doc(`
		# Describe the core's segments and dynamic linker
		❯ corefile info /cores/core.1234
		# JSON output for scripting
		❯ corefile info --json /cores/core.1234`),
	Args:          cobra.ExactArgs(1),
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if viper.GetBool("verbose") {
			log.SetLevel(log.DebugLevel)
		}
		force := viper.GetBool("color")
		colors.Init(&force)

		var conf corefile.Config
		if len(viper.GetString("info.dylinker")) > 0 {
			addr, err := utils.ConvertStrToInt(viper.GetString("info.dylinker"))
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

		info, err := corecmd.GetInfo(f)
		if err != nil {
			return err
		}

		if viper.GetBool("info.json") {
			j, err := json.Marshal(info)
			if err != nil {
				return err
			}
			fmt.Println(string(j))
			return nil
		}

		field := colors.BoldBlue().SprintFunc()

		fmt.Printf("%s: %s\n", field("Magic"), info.Magic)
		fmt.Printf("%s:  %s\n", field("Type"), info.FileType)
		fmt.Printf("%s:   %s\n", field("CPU"), info.Arch)
		fmt.Println()
		fmt.Println("Segments")
		fmt.Println("========")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, seg := range info.Segments {
			fmt.Fprintf(w, "%#x-%#x\t%s\t%s\t(%s on disk)\n",
				seg.Addr, seg.Addr+seg.Memsz, seg.Prot, humanize.Bytes(seg.Memsz), humanize.Bytes(seg.Filesz))
		}
		w.Flush()

		if info.Dylinker != nil {
			fmt.Println()
			fmt.Println("Dylinker")
			fmt.Println("========")
			if len(info.Dylinker.Path) > 0 {
				fmt.Printf("%s:        %s\n", field("Path"), info.Dylinker.Path)
			}
			fmt.Printf("%s:     %#x\n", field("Address"), info.Dylinker.Address)
			fmt.Printf("%s:       %#x\n", field("Slide"), info.Dylinker.Slide)
			if info.Dylinker.ImageInfosAddr != 0 {
				fmt.Printf("%s: %#x (v%d, %d images)\n",
					field("Image Infos"), info.Dylinker.ImageInfosAddr, info.Dylinker.Version, info.Dylinker.ImageCount)
			}
		} else {
			fmt.Println()
			log.Warn("core does NOT contain a dynamic linker image")
		}

		return nil
	},
}
