package artnet

import (
	"fmt"
	"sync"

	"lightcore/internal/config"
	"lightcore/internal/logger"
	"lightcore/internal/universe"
)

type (
	resolveFunc func(ip, cidr string) (Interface, error)
	openFunc    func(iface Interface, line uint32, typ Type, log logger.Logger) (*Controller, error)
)

// Plugin owns one Controller per configured line and exposes them to the
// universe registry as output and input patches.
type Plugin struct {
	log     *logger.Log
	resolve resolveFunc
	open    openFunc

	mu     sync.Mutex
	lines  map[uint32]*Controller
	inputs map[inputKey]universe.InputHandler
}

type inputKey struct {
	line     uint32
	universe uint32
}

// NewPlugin returns a plugin with no open lines.
func NewPlugin(log logger.Logger) *Plugin {
	return &Plugin{
		log:     logger.OrDiscard(log).Module("art-net"),
		resolve: FindArtNetIP,
		open:    NewController,
		lines:   make(map[uint32]*Controller),
		inputs:  make(map[inputKey]universe.InputHandler),
	}
}

// Configure opens a controller for every line of cfgs and patches its
// universes into reg. A line that cannot be opened is logged and skipped.
func (p *Plugin) Configure(cfgs []config.ArtNetConf, reg *universe.Registry) int {
	opened := 0
	for i, cfg := range cfgs {
		line := uint32(i)
		ctrl, err := p.openLine(line, cfg)
		if err != nil {
			p.log.Errorf("line %d disabled: %v", line, err)
			continue
		}
		opened++

		for _, u := range cfg.Universes {
			typ, _ := ParseType(u.Type)
			if typ&Output != 0 {
				if !reg.SetOutputPatch(u.Universe, p.OutputPatch(line)) {
					p.log.Warnf("line %d: universe %d does not exist", line, u.Universe)
				}
			}
			if typ&Input != 0 {
				if err := reg.SetInputPatch(u.Universe, p.InputPatch(line, u.Universe)); err != nil {
					p.log.Warnf("line %d: universe %d: %v", line, u.Universe, err)
				}
			}
		}
		p.log.Infof("line %d on %s: %d universes, type %s", line, ctrl.NetworkIP(), len(cfg.Universes), ctrl.Type())
	}
	return opened
}

func (p *Plugin) openLine(line uint32, cfg config.ArtNetConf) (*Controller, error) {
	iface, err := p.resolve(cfg.IP, cfg.CIDR)
	if err != nil {
		return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
	}

	typ := Unknown
	for _, u := range cfg.Universes {
		t, err := ParseType(u.Type)
		if err != nil {
			return nil, err
		}
		typ |= t
	}

	ctrl, err := p.open(iface, line, typ, p.log)
	if err != nil {
		return nil, err
	}

	for _, u := range cfg.Universes {
		t, _ := ParseType(u.Type)
		ctrl.AddUniverse(u.Universe, t)
		if u.OutputAddress != "" {
			ctrl.SetOutputIPAddress(u.Universe, u.OutputAddress)
		}
		if u.OutputUniverse != nil {
			ctrl.SetOutputUniverse(u.Universe, uint32(*u.OutputUniverse))
		}
		ctrl.SetTransmissionMode(u.Universe, ParseTransmissionMode(u.Mode))
	}
	ctrl.SetInputHandler(p.route)

	p.mu.Lock()
	p.lines[line] = ctrl
	p.mu.Unlock()
	return ctrl, nil
}

func (p *Plugin) route(ev InputEvent) {
	p.mu.Lock()
	h := p.inputs[inputKey{line: ev.Line, universe: ev.Universe}]
	p.mu.Unlock()
	if h != nil {
		h(ev.Universe, ev.Channel, ev.Value)
	}
}

// Controller returns the controller of line, or nil.
func (p *Plugin) Controller(line uint32) *Controller {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines[line]
}

// Close closes every line.
func (p *Plugin) Close() {
	p.mu.Lock()
	lines := p.lines
	p.lines = make(map[uint32]*Controller)
	p.inputs = make(map[inputKey]universe.InputHandler)
	p.mu.Unlock()

	for line, c := range lines {
		if err := c.Close(); err != nil {
			p.log.Debugf("line %d close: %v", line, err)
		}
	}
}

// OutputPatch returns the patch sending universes on line.
func (p *Plugin) OutputPatch(line uint32) universe.OutputPatch {
	return outputPatch{plugin: p, line: line}
}

// InputPatch returns the patch delivering universe input received on line.
func (p *Plugin) InputPatch(line, id uint32) universe.InputPatch {
	return &inputPatch{plugin: p, key: inputKey{line: line, universe: id}}
}

type outputPatch struct {
	plugin *Plugin
	line   uint32
}

func (o outputPatch) Dump(id uint32, data []byte) {
	if c := o.plugin.Controller(o.line); c != nil {
		c.SendDmx(id, data)
	}
}

type inputPatch struct {
	plugin *Plugin
	key    inputKey
}

func (i *inputPatch) Open(h universe.InputHandler) error {
	i.plugin.mu.Lock()
	defer i.plugin.mu.Unlock()
	if _, ok := i.plugin.lines[i.key.line]; !ok {
		return fmt.Errorf("art-net line %d is not open", i.key.line)
	}
	i.plugin.inputs[i.key] = h
	return nil
}

func (i *inputPatch) Close() {
	i.plugin.mu.Lock()
	delete(i.plugin.inputs, i.key)
	i.plugin.mu.Unlock()
}
