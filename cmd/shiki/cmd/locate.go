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
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/aymanbagabas/go-udiff"
	"github.com/blacktop/shiki/internal/colors"
	"github.com/blacktop/shiki/internal/utils"
	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/loader"
	"github.com/blacktop/shiki/pkg/patcher"
	"github.com/blacktop/shiki/pkg/template"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(locateCmd)
	locateCmd.Flags().String("target", patcher.DefaultTarget.String(), "CPU generation the renderer is retargeted to")
	viper.BindPFlag("locate.target", locateCmd.Flags().Lookup("target"))
}

// hexLines renders b as 8 byte rows for line based diffs
func hexLines(b []byte, base int) string {
	var sb strings.Builder
	for i := 0; i < len(b); i += 8 {
		fmt.Fprintf(&sb, "%08x  % x\n", base+i, b[i:min(i+8, len(b))])
	}
	return sb.String()
}

func printPatch(name string, origin int, p *template.Patch) {
	diff := udiff.Unified(name+" (find)", name+" (replace)", hexLines(p.Find, origin), hexLines(p.Replace, origin))
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			fmt.Println(colors.Removed().Sprint(line))
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			fmt.Println(colors.Added().Sprint(line))
		default:
			fmt.Println(line)
		}
	}
}

// locateCmd represents the locate command
var locateCmd = &cobra.Command{
	Use:   "locate <AppleGVA>",
	Short: "Derive the dynamic patches for an image without applying them",
	Example: heredoc.Doc(`
		# Locate the NVIDIA vendor checks for a High Sierra AppleGVA
		❯ shiki locate --os-version 17.7.0 --cpu haswell AppleGVA`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		osv, err := osVersion(viper.GetString("facts.os-version"))
		if err != nil {
			return err
		}
		target, err := cpu.Parse(viper.GetString("locate.target"))
		if err != nil {
			return err
		}

		path := filepath.Clean(args[0])
		img, err := loader.ReadImage(path, path)
		if err != nil {
			return err
		}

		log.WithFields(log.Fields{"kernel": osv, "release": osv.Name()}).Info("Locating sites")

		site, err := patcher.NVIDIALocator.Locate(img.Data, img.TextStart, img.TextEnd, osv)
		if err != nil {
			log.WithError(err).Error("NVIDIA vendor check")
		} else {
			utils.Indent(log.WithFields(log.Fields{
				"anchor": fmt.Sprintf("%#x", site.Anchor),
				"origin": fmt.Sprintf("%#x", site.Origin),
				"hits":   len(site.Occurrences),
			}).Info, 2)("NVIDIA vendor check")
			p, err := template.CopyAndMask(img.Data, site, template.NOP6)
			if err != nil {
				return err
			}
			printPatch(patcher.NVIDIALocator.Name, site.Origin, p)
		}

		source := cpu.Unknown
		if name := viper.GetString("facts.cpu"); name != "" {
			if source, err = cpu.Parse(name); err != nil {
				return err
			}
		} else if source, err = cpu.Detect(); err != nil {
			log.WithError(err).Warn("Failed to detect CPU generation")
		}

		p, err := patcher.CompatInjector.Derive(osv, source, target)
		if err != nil {
			log.WithError(err).Error("Compatible renderer")
			return nil
		}
		tmpl, _ := patcher.CompatInjector.TemplateFor(osv)
		utils.Indent(log.WithFields(log.Fields{
			"template": tmpl.Name,
			"source":   source,
			"target":   target,
		}).Info, 2)("Compatible renderer")
		if !p.Changed() {
			utils.Indent(log.Warn, 3)("already compatible, nothing to patch")
			return nil
		}
		printPatch(tmpl.Name, 0, p)

		return nil
	},
}
