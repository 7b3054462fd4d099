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
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/apex/log"
	"github.com/blacktop/shiki/internal/config"
	"github.com/blacktop/shiki/internal/utils"
	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/devicetree"
	"github.com/blacktop/shiki/pkg/environment"
	"github.com/blacktop/shiki/pkg/kernel"
	"github.com/blacktop/shiki/pkg/policy"
)

type setup struct {
	conf  *config.Config
	opts  *config.Options
	props *devicetree.Store
	env   environment.Provider
}

// loadSetup merges the config file, flags and environment into the patcher inputs
func loadSetup() (*setup, error) {
	conf, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	s := &setup{conf: conf, opts: conf.Options()}
	if s.opts.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if conf.Properties != "" {
		if s.props, err = devicetree.Open(conf.Properties); err != nil {
			return nil, err
		}
	} else {
		s.props = devicetree.NewStore()
	}
	if conf.DeviceTree != "" {
		if err := importDeviceTree(s.props, conf.DeviceTree); err != nil {
			return nil, err
		}
	}
	if conf.Facts.IGPlatformID != "" {
		id, err := parseUint32(conf.Facts.IGPlatformID)
		if err != nil {
			return nil, err
		}
		if err := s.props.SetProperty("/PCI0@0/IGPU@2", devicetree.PlatformIDKey, id); err != nil {
			return nil, err
		}
	}

	sys := &environment.System{
		Release:    conf.Facts.OSVersion,
		Properties: s.props,
		Companion:  conf.Facts.Companion,
	}
	if conf.Facts.CPU != "" {
		if sys.CPU, err = cpu.Parse(conf.Facts.CPU); err != nil {
			return nil, err
		}
	}
	s.env = sys

	return s, nil
}

func importDeviceTree(props *devicetree.Store, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open device tree: %v", err)
	}
	defer f.Close()

	fdt, err := devicetree.Parse(f)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"path": file, "nodes": len(fdt.Nodes())}).Debug("Parsed device tree")
	return props.Import(fdt)
}

// facts gathers the policy facts the same way the patcher does at start-up
func (s *setup) facts() (policy.Facts, error) {
	osv, err := s.env.OSVersion()
	if err != nil {
		return policy.Facts{}, err
	}
	gen, err := s.env.CPUGeneration()
	if err != nil {
		log.WithError(err).Warn("Failed to detect CPU generation")
	}
	return policy.Facts{
		OS:         osv,
		CPU:        gen,
		Autodetect: s.env.Autodetect(),
		Companion:  s.env.CompanionLoaded(),
	}, nil
}

// osVersion parses a release or version banner; empty asks uname
func osVersion(s string) (kernel.Version, error) {
	return (&environment.System{Release: s}).OSVersion()
}

func parseUint32(s string) ([]byte, error) {
	v, err := utils.ConvertStrToInt(s)
	if err != nil || v > math.MaxUint32 {
		return nil, fmt.Errorf("invalid platform-id %q", s)
	}
	return binary.LittleEndian.AppendUint32(nil, uint32(v)), nil
}
