/*
Copyright © 2024 blacktop

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
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/shiki/internal/colors"
	"github.com/blacktop/shiki/internal/utils"
	"github.com/blacktop/shiki/pkg/loader"
	"github.com/blacktop/shiki/pkg/signature"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolP("all", "a", false, "Report every match")
	scanCmd.Flags().Bool("whole", false, "Scan the whole file instead of __TEXT,__text")
	scanCmd.Flags().IntP("context", "c", signature.ContextSize, "Bytes of context to dump around a match")
	viper.BindPFlag("scan.all", scanCmd.Flags().Lookup("all"))
	viper.BindPFlag("scan.whole", scanCmd.Flags().Lookup("whole"))
	viper.BindPFlag("scan.context", scanCmd.Flags().Lookup("context"))
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan <image> <pattern>",
	Short: "Search an image for a wildcard byte pattern",
	Example: heredoc.Doc(`
		# Find the first NVIDIA vendor id compare
		❯ shiki scan AppleGVA "81 F9 DE 10 00 00"
		# Find every jne rel32
		❯ shiki scan --all AppleGVA "0F 85 ?? ?? ?? ??"`),
	Args:          cobra.ExactArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern, err := signature.Parse(args[1])
		if err != nil {
			return err
		}

		path := filepath.Clean(args[0])
		img, err := loader.ReadImage(path, path)
		if err != nil {
			return err
		}

		start, end := img.TextStart, img.TextEnd
		if viper.GetBool("scan.whole") {
			start, end = 0, img.Size()
		}
		log.WithFields(log.Fields{
			"size":  humanize.Bytes(uint64(img.Size())),
			"range": fmt.Sprintf("%#x-%#x", start, end),
			"arch":  img.Arch,
		}).Info("Scanning")

		var hits int
		ctx := viper.GetInt("scan.context")
		for {
			res := signature.ScanContext(img.Data, pattern, start, end, ctx)
			if !res.Found {
				break
			}
			hits++
			fmt.Println(colors.Bold().Sprint("match"), res)
			if !viper.GetBool("scan.all") {
				break
			}
			start = res.Offset + pattern.Len()
		}
		if hits == 0 {
			return fmt.Errorf("%s: %w", pattern, signature.ErrNotFound)
		}
		utils.Indent(log.Info, 2)(fmt.Sprintf("%d %s", hits, english.PluralWord(hits, "match", "matches")))

		return nil
	},
}
