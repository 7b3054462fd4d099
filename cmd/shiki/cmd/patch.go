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
	"os"
	"path/filepath"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/shiki/internal/colors"
	"github.com/blacktop/shiki/pkg/loader"
	"github.com/blacktop/shiki/pkg/patcher"
	"github.com/blacktop/shiki/pkg/table"
	"github.com/blacktop/shiki/pkg/template"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	rootCmd.AddCommand(patchCmd)
	patchCmd.Flags().StringSlice("launch", nil, "Executables to report process hooks for")
	patchCmd.Flags().Bool("diff", false, "Show find/replace diffs")
	viper.BindPFlag("patch.launch", patchCmd.Flags().Lookup("launch"))
	viper.BindPFlag("patch.diff", patchCmd.Flags().Lookup("diff"))
}

// patchedHost keeps the latest patched load of every image
type patchedHost struct {
	*loader.FileHost
	// out, when set, receives every image as soon as it is patched
	out    string
	images map[string]*loader.Image
}

func newPatchedHost(root, out string) *patchedHost {
	return &patchedHost{
		FileHost: loader.NewFileHost(root),
		out:      out,
		images:   make(map[string]*loader.Image),
	}
}

func (h *patchedHost) RegisterImageLoadHook(paths []string, cb loader.ImageCallback) error {
	return h.FileHost.RegisterImageLoadHook(paths, func(img *loader.Image) {
		cb(img)
		h.images[img.Path] = img
		if h.out != "" {
			if err := writeImage(h.out, img); err != nil {
				log.WithError(err).WithField("image", img.Path).Error("Failed to write patched image")
			}
		}
	})
}

// writeImage writes the whole file (every slice of a fat image) below out
func writeImage(out string, img *loader.Image) error {
	fname := filepath.Join(out, filepath.FromSlash(img.Path))
	if err := os.MkdirAll(filepath.Dir(fname), 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %v", err)
	}
	if err := os.WriteFile(fname, img.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write patched image: %v", err)
	}
	log.WithFields(log.Fields{
		"path": fname,
		"size": humanize.Bytes(uint64(len(img.Raw))),
	}).Info("Created")
	return nil
}

// startPatcher starts a patcher serving the images below root; eager writes every patched load
// to the configured output folder right away
func startPatcher(root string, eager bool) (*patcher.Patcher, *patchedHost, *setup, error) {
	s, err := loadSetup()
	if err != nil {
		return nil, nil, nil, err
	}
	var out string
	if eager {
		out = s.conf.Output
	}
	host := newPatchedHost(root, out)
	p, err := patcher.New(patcher.Config{
		Options:    s.opts,
		Env:        s.env,
		Host:       host,
		Properties: s.props,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if err := p.Start(); err != nil {
		return nil, nil, nil, err
	}
	fmt.Println(renderDecisions(p.Decisions()))
	return p, host, s, nil
}

// patchCmd represents the patch command
var patchCmd = &cobra.Command{
	Use:   "patch <root>",
	Short: "Patch the images found below a system root",
	Example: heredoc.Doc(`
		# Patch a mounted High Sierra volume into ./out
		❯ shiki patch -b "shikigva=0x80" --os-version 17.7.0 -o out /Volumes/HighSierra
		# Show what changed in AppleGVA only
		❯ shiki patch -b "shikigva=32" --diff \
			--image /System/Library/PrivateFrameworks/AppleGVA.framework/Versions/A/AppleGVA /Volumes/HighSierra`),
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := filepath.Clean(args[0])

		p, host, s, err := startPatcher(root, false)
		if err != nil {
			return err
		}
		defer p.Stop()

		for _, exec := range viper.GetStringSlice("patch.launch") {
			if n := host.Launch(exec); n == 0 {
				log.WithField("process", exec).Warn("No process hook matched")
			}
		}

		n, err := host.LoadAll(s.conf.Images...)
		if err != nil {
			return err
		}
		if n == 0 {
			log.Warn("No hooked image found below " + root)
			return nil
		}

		fmt.Println()
		fmt.Println(renderDecisions(p.Decisions()))

		applied := p.Applied()
		t := table.New("IMAGE", "SECTION", "SIZE", "COUNT")
		t.MaxWidth = table.TerminalWidth()
		for _, r := range applied {
			count := colors.Active().Sprint(r.Count)
			if r.Count == 0 {
				count = colors.Inactive().Sprint(r.Count)
			}
			t.AppendRow(filepath.Base(r.Image), r.Section.String(), humanize.Bytes(uint64(len(r.Find))), count)
		}
		if t.Len() > 0 {
			fmt.Println()
			fmt.Println(t.Render())
		}
		if viper.GetBool("patch.diff") {
			for _, r := range applied {
				if r.Count > 0 {
					fmt.Println()
					printPatch(r.Section.String(), 0, &template.Patch{Find: r.Find, Replace: r.Replace})
				}
			}
		}

		if s.conf.Output != "" {
			for _, img := range host.images {
				if err := writeImage(s.conf.Output, img); err != nil {
					return err
				}
			}
		}

		return nil
	},
}
