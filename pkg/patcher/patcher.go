// Package patcher owns the patch registry and drives it from start-up and image load notifications.
package patcher

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/shiki/internal/config"
	"github.com/blacktop/shiki/internal/utils"
	"github.com/blacktop/shiki/pkg/cpu"
	"github.com/blacktop/shiki/pkg/devicetree"
	"github.com/blacktop/shiki/pkg/environment"
	"github.com/blacktop/shiki/pkg/loader"
	"github.com/blacktop/shiki/pkg/patcher/resources"
	"github.com/blacktop/shiki/pkg/policy"
	"github.com/blacktop/shiki/pkg/registry"
	"github.com/blacktop/shiki/pkg/signature"
	"github.com/blacktop/shiki/pkg/template"
	"github.com/pkg/errors"
)

// BoardIDProperty is the root property AppleGVA reads once board-id is patched out
const BoardIDProperty = "hwgva-id"

var (
	ErrDisabled          = errors.New("patcher disabled")
	ErrNotStarted        = errors.New("patcher not started")
	ErrAlreadyStarted    = errors.New("patcher already started")
	ErrAlreadyCompatible = errors.New("renderer already compatible")
)

var boardIDString = []byte("board-id")

// Config holds the collaborators and the parsed options
type Config struct {
	Options *config.Options
	Env     environment.Provider
	Host    loader.Host
	// Properties receives the hwgva-id property; nil makes the board-id override fail
	Properties devicetree.Writer
	Applier    Applier
	// Optional
	Table     *policy.Table
	Resources []byte
	Locator   *signature.Locator
	Injector  *template.Injector
	Target    cpu.Generation
}

// Patcher is the process-wide patcher context
type Patcher struct {
	mu sync.Mutex

	conf      Config
	reg       *registry.Registry
	facts     policy.Facts
	decisions policy.Decisions
	tentative map[registry.Section]bool
	applied   []Record
	started   bool
}

// New builds the registry from the patch table
func New(conf Config) (*Patcher, error) {
	if conf.Options == nil {
		return nil, errors.New("patcher: missing options")
	}
	if conf.Env == nil || conf.Host == nil {
		return nil, errors.New("patcher: missing environment or loader")
	}
	if conf.Applier == nil {
		conf.Applier = &BufferApplier{}
	}
	if conf.Table == nil {
		conf.Table = policy.DefaultTable
	}
	if conf.Locator == nil {
		conf.Locator = NVIDIALocator
	}
	if conf.Injector == nil {
		conf.Injector = CompatInjector
	}
	if conf.Target == cpu.Unknown {
		conf.Target = DefaultTarget
	}

	var (
		procs []registry.Process
		mods  []registry.Module
		err   error
	)
	if conf.Resources != nil {
		procs, mods, err = resources.Decode(conf.Resources)
	} else {
		procs, mods, err = resources.Default()
	}
	if err != nil {
		return nil, errors.Wrap(err, "patcher")
	}
	reg, err := registry.New(procs, mods)
	if err != nil {
		return nil, errors.Wrap(err, "patcher: invalid patch table")
	}

	p := &Patcher{
		conf:      conf,
		reg:       reg,
		tentative: make(map[registry.Section]bool),
	}
	for _, r := range conf.Table.Rules {
		if r.Tentative {
			p.tentative[r.Section] = true
		}
	}
	return p, nil
}

// Start evaluates the activation policy, publishes the board-id override and registers the load hooks.
// The hooks are registered without holding the patcher lock, so a host may deliver images that are
// already loaded from inside the registration call.
func (p *Patcher) Start() error {
	if err := p.evaluate(); err != nil {
		return err
	}

	p.registerProcesses()
	p.registerImages()

	log.WithFields(log.Fields{
		"kernel": fmt.Sprintf("%s (%s)", p.facts.OS, p.facts.OS.Name()),
		"cpu":    p.facts.CPU,
		"gva":    p.conf.Options.GVA,
	}).Info("Patcher started")

	return nil
}

func (p *Patcher) evaluate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := p.conf.Options
	if opts.Disabled {
		return errors.Wrapf(ErrDisabled, "boot argument %s", opts.DisabledBy)
	}
	if p.started {
		return ErrAlreadyStarted
	}
	if p.reg.Len() == 0 {
		return errors.Wrap(ErrNotStarted, "registry closed")
	}
	for _, w := range opts.Warnings {
		log.Warn(w)
	}

	if err := p.gatherFacts(); err != nil {
		return err
	}

	p.decisions = p.conf.Table.Evaluate(opts, p.facts)
	for _, s := range p.decisions.Sections() {
		d := p.decisions[s]
		log.WithFields(log.Fields{"section": s, "state": d.State, "reason": d.Reason}).Debug("Section decision")
		if !d.State.Enabled() {
			p.reg.Disable(s)
		}
	}

	if p.decisions.State(registry.SectionBOARDID).Enabled() {
		p.publishBoardID()
	}

	p.started = true
	return nil
}

func (p *Patcher) gatherFacts() error {
	env := p.conf.Env

	osv, err := env.OSVersion()
	if err != nil {
		return errors.Wrap(err, "failed to detect kernel version")
	}
	if err := p.conf.Table.Supported(osv, p.conf.Options.Beta); err != nil {
		return err
	}

	gen, err := env.CPUGeneration()
	if err != nil {
		log.WithError(err).Warn("Failed to detect CPU generation")
		gen = cpu.Unknown
	}

	p.facts = policy.Facts{
		OS:         osv,
		CPU:        gen,
		Autodetect: env.Autodetect(),
		Companion:  env.CompanionLoaded(),
	}
	return nil
}

func (p *Patcher) publishBoardID() {
	if p.conf.Properties == nil {
		p.deactivate(registry.SectionBOARDID, "no property writer")
		return
	}
	val := append([]byte(p.conf.Options.BoardID), 0)
	if err := p.conf.Properties.SetProperty(devicetree.RootPath, BoardIDProperty, val); err != nil {
		p.deactivate(registry.SectionBOARDID, fmt.Sprintf("failed to publish %s: %v", BoardIDProperty, err))
		return
	}
	log.WithField(BoardIDProperty, p.conf.Options.BoardID).Debug("Published board-id override")
}

// registerProcesses installs the process hook; a declined registration deactivates its sections
func (p *Patcher) registerProcesses() {
	p.mu.Lock()
	procs := p.reg.Processes()
	p.mu.Unlock()
	if len(procs) == 0 {
		return
	}
	if err := p.conf.Host.RegisterProcessLoadHook(procs, p.onProcessLoad); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, proc := range procs {
			p.deactivate(proc.Section, fmt.Sprintf("process hook: %v", err))
		}
	}
}

// registerImages hooks every image that still has an active descriptor; a declined registration
// deactivates every section those images would have served
func (p *Patcher) registerImages() {
	p.mu.Lock()
	var paths []string
	for _, path := range p.reg.ModulePaths() {
		for _, h := range p.reg.Handles(path) {
			if p.reg.Active(h) {
				paths = append(paths, path)
				break
			}
		}
	}
	p.mu.Unlock()
	if len(paths) == 0 {
		log.Debug("No image needs patching")
		return
	}

	if err := p.conf.Host.RegisterImageLoadHook(paths, p.OnImageLoad); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, path := range paths {
			for _, h := range p.reg.Handles(path) {
				if d, derr := p.reg.Descriptor(h); derr == nil {
					p.deactivate(d.Section, fmt.Sprintf("image hook: %v", err))
				}
			}
		}
	}
}

func (p *Patcher) deactivate(s registry.Section, reason string) {
	p.reg.Disable(s)
	if p.decisions.Downgrade(s, reason) {
		log.WithFields(log.Fields{"section": s, "reason": reason}).Warn("Section disabled")
	}
}

func (p *Patcher) onProcessLoad(exec string, proc registry.Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || !p.reg.SectionActive(proc.Section) {
		return
	}
	log.WithFields(log.Fields{"process": exec, "section": proc.Section}).Info("Process hooked")
}

// OnImageLoad is the image load callback. Dynamic descriptors of the image are derived again,
// tentative sections are resolved and the ready tuples are handed to the Applier.
func (p *Patcher) OnImageLoad(img *loader.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || !p.reg.HasModule(img.Path) {
		return
	}
	handles := p.reg.BeginLoad(img.Path)
	if len(handles) == 0 {
		return
	}

	log.WithFields(log.Fields{"image": img.Path, "size": img.Size()}).Info("Patching image")

	p.resolveTentative(img, handles)

	for _, h := range handles {
		d, err := p.reg.Descriptor(h)
		if err != nil || !d.Dynamic || !p.reg.Active(h) {
			continue
		}
		if err := p.derive(img, h, d.Section); err != nil {
			p.deactivate(d.Section, err.Error())
		}
	}

	for _, t := range p.reg.Tuples(img.Path) {
		n, err := p.conf.Applier.Apply(img, t)
		if err != nil {
			log.WithError(err).WithField("section", t.Section).Error("Failed to apply patch")
			continue
		}
		utils.Indent(log.WithFields(log.Fields{"section": t.Section, "count": n}).Info, 2)("Applied patch")
		p.applied = append(p.applied, Record{
			Image:   t.Image,
			Section: t.Section,
			Find:    t.Find,
			Replace: t.Replace,
			Count:   n,
		})
	}
}

func (p *Patcher) resolveTentative(img *loader.Image, handles []registry.Handle) {
	seen := make(map[registry.Section]bool)
	for _, h := range handles {
		d, err := p.reg.Descriptor(h)
		if err != nil || !p.tentative[d.Section] || seen[d.Section] || !p.reg.Active(h) {
			continue
		}
		seen[d.Section] = true

		switch d.Section {
		case registry.SectionKEGVA:
			id, ok := p.conf.Env.GPUPlatformID()
			if !ok {
				p.deactivate(d.Section, fmt.Sprintf("invalid IGPU platform-id %#x", id))
				continue
			}
		case registry.SectionBOARDID:
			if !bytes.Contains(img.Data, boardIDString) {
				p.deactivate(d.Section, "board-id string not found in "+img.Path)
				continue
			}
		}
		p.decisions.Confirm(d.Section)
	}
}

func (p *Patcher) derive(img *loader.Image, h registry.Handle, s registry.Section) error {
	var (
		patch *template.Patch
		err   error
	)
	switch s {
	case registry.SectionNVIDIA:
		site, lerr := p.conf.Locator.Locate(img.Data, img.TextStart, img.TextEnd, p.facts.OS)
		if lerr != nil {
			return errors.Wrap(lerr, "failed to locate vendor check")
		}
		utils.Indent(log.WithFields(log.Fields{
			"anchor": fmt.Sprintf("%#x", site.Anchor),
			"origin": fmt.Sprintf("%#x", site.Origin),
		}).Debug, 2)("Located site")
		patch, err = template.CopyAndMask(img.Data, site, template.NOP6)
	case registry.SectionCOMPAT:
		patch, err = p.conf.Injector.Derive(p.facts.OS, p.facts.CPU, p.conf.Target)
		if err == nil && !patch.Changed() {
			return errors.Wrapf(ErrAlreadyCompatible, "%s", p.facts.CPU)
		}
	default:
		return errors.Errorf("no derivation for section %s", s)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to derive %s", s)
	}
	return p.reg.Fill(h, patch.Find, patch.Replace)
}

// Stop tears the registry down; the patcher cannot be started again
func (p *Patcher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reg.Close()
	p.started = false
}

// Decisions returns a copy of the current section decisions
func (p *Patcher) Decisions() policy.Decisions {
	p.mu.Lock()
	defer p.mu.Unlock()
	d := make(policy.Decisions, len(p.decisions))
	for k, v := range p.decisions {
		d[k] = v
	}
	return d
}

// Facts returns the environment facts gathered at start-up
func (p *Patcher) Facts() policy.Facts {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.facts
}

// Applied returns the tuples applied so far
func (p *Patcher) Applied() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.applied...)
}

// Registry exposes the registry for inspection; callers must not mutate it while images load
func (p *Patcher) Registry() *registry.Registry {
	return p.reg
}
