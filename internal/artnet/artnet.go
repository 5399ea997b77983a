package artnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Haba1234/go-artnet/packet"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"lightcore/internal/logger"
)

// Controller is one Art-Net endpoint bound to a local interface. It sends
// ArtDmx for the universes mapped on its line and reports changed input
// channels received from the network.
type Controller struct {
	log   *logger.Log
	conn  net.PacketConn
	iface Interface
	line  uint32
	name  string

	mu        sync.Mutex
	universes map[uint32]*UniverseInfo
	sequence  map[uint32]uint8
	outDmx    packet.ArtDMXPacket
	onInput   func(InputEvent)

	nodesMu sync.Mutex
	nodes   map[string]NodeInfo

	// receive goroutine only
	inputCache map[uint32][]byte
	inPacket   []byte

	sent     atomic.Uint64
	received atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// NewController binds the Art-Net port on iface and starts receiving. An
// Output controller announces itself with an ArtPoll.
func NewController(iface Interface, line uint32, typ Type, log logger.Logger) (*Controller, error) {
	lc := net.ListenConfig{Control: control}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind art-net port on %s: %w", iface.IP, err)
	}

	c := newController(conn, iface, line, typ, log)
	go c.serve()
	return c, nil
}

func newController(conn net.PacketConn, iface Interface, line uint32, typ Type, log logger.Logger) *Controller {
	c := &Controller{
		log:        logger.OrDiscard(log).Module("art-net").With(logger.Fields{"line": line}),
		conn:       conn,
		iface:      iface,
		line:       line,
		name:       "lightcore",
		universes:  make(map[uint32]*UniverseInfo),
		sequence:   make(map[uint32]uint8),
		nodes:      make(map[string]NodeInfo),
		inputCache: make(map[uint32][]byte),
		inPacket:   make([]byte, 2048),
		done:       make(chan struct{}),
	}
	c.log.Debugf("broadcast address %s (MAC %s), type %s", iface.Broadcast, iface.MAC, typ)

	if typ&Output != 0 {
		poll, err := marshalPoll()
		if err != nil {
			c.log.Errorf("unable to encode poll: %v", err)
			return c
		}
		if _, err := conn.WriteTo(poll, c.udpAddr(iface.Broadcast)); err != nil {
			c.log.Warnf("unable to send initial poll: %v", err)
		} else {
			c.sent.Add(1)
		}
	}
	return c
}

// Close stops the receive loop and releases the socket.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Controller) serve() {
	for {
		n, addr, err := c.conn.ReadFrom(c.inPacket)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Debugf("read error: %v", err)
			continue
		}
		c.handlePacket(c.inPacket[:n], addr)
	}
}

func (c *Controller) udpAddr(ip net.IP) *net.UDPAddr {
	return &net.UDPAddr{IP: ip, Port: Port}
}

// SetInputHandler sets the callback for changed input channels.
func (c *Controller) SetInputHandler(fn func(InputEvent)) {
	c.mu.Lock()
	c.onInput = fn
	c.mu.Unlock()
}

func (c *Controller) handlePacket(data []byte, from net.Addr) {
	p, err := decode(data)
	if err != nil {
		c.log.Debugf("malformed packet from %v: %v", from, err)
		return
	}
	c.received.Add(1)

	switch p := p.(type) {
	case *packet.ArtPollReplyPacket:
		c.log.Debug("ArtPollReply received")
		c.addNode(from, nodeInfoOf(p))
	case *packet.ArtPollPacket:
		c.log.Debug("ArtPoll received")
		c.replyToPoll(from)
	case *packet.ArtDMXPacket:
		if c.Type()&Input == 0 {
			return
		}
		c.handleDmx(dmxPayload(p))
	}
}

func (c *Controller) addNode(from net.Addr, info NodeInfo) {
	key := hostOf(from)
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	if _, ok := c.nodes[key]; !ok {
		c.nodes[key] = info
	}
}

func (c *Controller) replyToPoll(from net.Addr) {
	ip := net.ParseIP(hostOf(from))
	if ip == nil {
		return
	}
	in, out := c.portCounts()
	reply, err := marshalPollReply(PollReply{
		IP:        c.iface.IP,
		MAC:       c.iface.MAC,
		ShortName: c.name,
		LongName:  fmt.Sprintf("%s - Art-Net line %d", c.name, c.line),
		Report:    "#0001 [0000] OK",
		Inputs:    in,
		Outputs:   out,
	})
	if err != nil {
		c.log.Errorf("unable to encode poll reply: %v", err)
		return
	}
	if _, err := c.conn.WriteTo(reply, c.udpAddr(ip)); err != nil {
		c.log.Debugf("poll reply to %s failed: %v", ip, err)
		return
	}
	c.sent.Add(1)
}

func (c *Controller) portCounts() (in, out int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, info := range c.universes {
		if info.Type&Input != 0 {
			in++
		}
		if info.Type&Output != 0 {
			out++
		}
	}
	return in, out
}

func (c *Controller) handleDmx(universe uint32, payload []byte) {
	cache, ok := c.inputCache[universe]
	if !ok {
		cache = make([]byte, MaxChannels)
		c.inputCache[universe] = cache
	}

	c.mu.Lock()
	handler := c.onInput
	c.mu.Unlock()

	for i, v := range payload {
		if cache[i] == v {
			continue
		}
		cache[i] = v
		if handler != nil {
			handler(InputEvent{Universe: universe, Line: c.line, Channel: uint32(i), Value: v})
		}
	}
}

// SendDmx sends data for a local universe to its mapped address. Unmapped
// universes go to the broadcast address as the same universe in Full mode.
func (c *Controller) SendDmx(universe uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := c.iface.Broadcast
	out := universeToAddress(universe)
	mode := Full
	if info, ok := c.universes[universe]; ok {
		addr = info.OutputAddress
		out = info.OutputUniverse
		mode = info.Mode
	}

	seq := c.sequence[universe] + 1
	if seq == 0 {
		seq = 1
	}
	c.sequence[universe] = seq

	pkt, err := marshalDmx(&c.outDmx, seq, out, data, mode == Full)
	if err != nil {
		c.log.Errorf("unable to encode dmx for %s: %v", out.String(), err)
		return
	}
	if _, err := c.conn.WriteTo(pkt, c.udpAddr(addr)); err != nil {
		c.log.Debugf("sendDmx to %s (%s) failed: %v", addr, out.String(), err)
		return
	}
	c.sent.Add(1)
}

// Type returns the union of the types of every mapped universe.
func (c *Controller) Type() Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Unknown
	for _, info := range c.universes {
		t |= info.Type
	}
	return t
}

func (c *Controller) Line() uint32 { return c.line }

func (c *Controller) PacketsSent() uint64     { return c.sent.Load() }
func (c *Controller) PacketsReceived() uint64 { return c.received.Load() }

func (c *Controller) NetworkIP() string { return c.iface.IP.String() }

func (c *Controller) Netmask() string {
	if c.iface.Netmask == nil {
		return ""
	}
	return net.IP(c.iface.Netmask).String()
}

// Nodes returns the nodes that answered a poll, keyed by IP.
func (c *Controller) Nodes() map[string]NodeInfo {
	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()
	out := make(map[string]NodeInfo, len(c.nodes))
	for k, v := range c.nodes {
		out[k] = v
	}
	return out
}

// AddUniverse maps universe with typ, or adds typ to an existing mapping.
func (c *Controller) AddUniverse(universe uint32, typ Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Debugf("add universe %d, type %s", universe, typ)
	if info, ok := c.universes[universe]; ok {
		info.Type |= typ
		return
	}
	c.universes[universe] = &UniverseInfo{
		OutputAddress:  c.iface.Broadcast,
		OutputUniverse: universeToAddress(universe),
		Mode:           Full,
		Type:           typ,
	}
}

// RemoveUniverse clears typ from the mapping and drops it once no type is
// left.
func (c *Controller) RemoveUniverse(universe uint32, typ Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.universes[universe]
	if !ok {
		return
	}
	if info.Type == typ {
		delete(c.universes, universe)
		return
	}
	info.Type &^= typ
}

// SetOutputIPAddress sets where universe is sent. A partial address such as
// "20" or "1.20" replaces the trailing octets of the controller IP; an empty
// one restores broadcast.
func (c *Controller) SetOutputIPAddress(universe uint32, address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.universes[universe]
	if !ok {
		c.log.Warnf("setOutputIPAddress: universe %d not mapped", universe)
		return false
	}
	if address == "" {
		info.OutputAddress = c.iface.Broadcast
		return true
	}

	ip, err := completeAddress(c.iface.IP, address)
	if err != nil {
		c.log.Warnf("setOutputIPAddress: %v", err)
		return false
	}
	c.log.Debugf("universe %d: transmit to IP %s", universe, ip)
	info.OutputAddress = ip
	return true
}

func completeAddress(own net.IP, partial string) (net.IP, error) {
	base := own.To4()
	if base == nil {
		return nil, fmt.Errorf("no IPv4 address to complete %q", partial)
	}
	octets := strings.Split(base.String(), ".")
	parts := strings.Split(partial, ".")
	if len(parts) > len(octets) {
		return nil, fmt.Errorf("bad address %q", partial)
	}
	for i, p := range parts {
		octets[len(octets)-len(parts)+i] = p
	}
	ip := net.ParseIP(strings.Join(octets, ".")).To4()
	if ip == nil {
		return nil, fmt.Errorf("bad address %q", partial)
	}
	return ip, nil
}

// SetOutputUniverse sets the Art-Net port-address universe is sent as.
func (c *Controller) SetOutputUniverse(universe, artnetUniverse uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.universes[universe]
	if !ok {
		return false
	}
	info.OutputUniverse = universeToAddress(artnetUniverse)
	return true
}

// SetTransmissionMode sets the payload size mode of universe.
func (c *Controller) SetTransmissionMode(universe uint32, mode TransmissionMode) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.universes[universe]
	if !ok {
		return false
	}
	info.Mode = mode
	return true
}

// Universes returns the mapped universes in order.
func (c *Controller) Universes() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := maps.Keys(c.universes)
	slices.Sort(ids)
	return ids
}

// UniverseInfo returns a copy of the mapping of universe.
func (c *Controller) UniverseInfo(universe uint32) (UniverseInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.universes[universe]
	if !ok {
		return UniverseInfo{}, false
	}
	return *info, true
}

func hostOf(addr net.Addr) string {
	if u, ok := addr.(*net.UDPAddr); ok {
		return u.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
