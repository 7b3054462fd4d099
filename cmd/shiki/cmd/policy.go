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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/blacktop/shiki/internal/colors"
	"github.com/blacktop/shiki/internal/config"
	"github.com/blacktop/shiki/pkg/policy"
	"github.com/blacktop/shiki/pkg/registry"
	"github.com/blacktop/shiki/pkg/table"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(policyCmd)
}

func stateColor(s policy.State) *color.Color {
	switch s {
	case policy.Active:
		return colors.Active()
	case policy.Tentative:
		return colors.Tentative()
	default:
		return colors.Inactive()
	}
}

func flagFor(s registry.Section) string {
	for _, r := range policy.DefaultTable.Rules {
		if r.Section == s {
			return fmt.Sprintf("%d", uint32(r.Flag))
		}
	}
	return "-"
}

func renderDecisions(d policy.Decisions) string {
	t := table.New("BIT", "SECTION", "STATE", "REASON")
	t.MaxWidth = table.TerminalWidth()
	for _, s := range d.Sections() {
		dec := d[s]
		t.AppendRow(flagFor(s), s.String(), stateColor(dec.State).Sprint(dec.State), dec.Reason)
	}
	return t.Render()
}

// policyCmd represents the policy command
var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show which sections the boot arguments and environment enable",
	Example: heredoc.Doc(`
		# Defaults for High Sierra (no shikigva)
		❯ shiki policy --os-version 17.7.0
		# Request board-id replacement and NVIDIA compatibility
		❯ shiki policy -b "shikigva=160 shiki-id=Mac-7BA5B2D9E42DDD94"`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSetup()
		if err != nil {
			return err
		}
		for _, w := range s.opts.Warnings {
			log.Warn(w)
		}
		if s.opts.Disabled {
			log.Warnf("disabled by %s", s.opts.DisabledBy)
		}

		f, err := s.facts()
		if err != nil {
			return err
		}
		if err := policy.DefaultTable.Supported(f.OS, s.opts.Beta); err != nil {
			log.Warn(err.Error())
		}

		gva := s.opts.GVA.String()
		if !s.opts.GVAPresent {
			gva = fmt.Sprintf("absent (defaults: %s)", policy.DefaultTable.DefaultFlags(f))
		}
		log.WithFields(log.Fields{
			"kernel":     fmt.Sprintf("%s (%s)", f.OS, f.OS.Name()),
			"cpu":        f.CPU,
			"autodetect": f.Autodetect,
			"companion":  f.Companion,
		}).Info("Environment")
		log.WithField("shikigva", gva).Info("Configuration")
		if s.opts.GVA.Has(config.ReplaceBoardID) {
			log.WithField("hwgva-id", s.opts.BoardID).Info("Board-id override")
		}

		fmt.Println(renderDecisions(policy.DefaultTable.Evaluate(s.opts, f)))

		return nil
	},
}
