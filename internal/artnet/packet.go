package artnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/Haba1234/go-artnet"
	"github.com/Haba1234/go-artnet/packet"
	"github.com/Haba1234/go-artnet/packet/code"
)

// Port is the Art-Net UDP port.
const Port = packet.ArtNetPort

const (
	dmxHeaderSize = 18

	// MaxChannels is the largest ArtDmx payload.
	MaxChannels = 512
)

var errUnsupported = errors.New("art-net: unsupported opcode")

// opCodeOf returns the opcode of a datagram without validating it.
func opCodeOf(data []byte) (code.OpCode, bool) {
	if len(data) < 10 {
		return 0, false
	}
	return code.OpCode(binary.LittleEndian.Uint16(data[8:10])), true
}

// decode validates and decodes the packets a controller handles.
// packet.Unmarshal returns a nil packet for opcodes it knows but does not
// decode, so anything else is rejected first.
func decode(data []byte) (packet.ArtNetPacket, error) {
	op, ok := opCodeOf(data)
	if !ok {
		return nil, fmt.Errorf("art-net: packet too short (%d bytes)", len(data))
	}
	switch op {
	case code.OpPoll, code.OpPollReply, code.OpDMX:
	default:
		return nil, fmt.Errorf("%w %s", errUnsupported, op)
	}
	return packet.Unmarshal(data)
}

// marshalPoll returns an ArtPoll asking nodes to reply on change.
func marshalPoll() ([]byte, error) {
	p := &packet.ArtPollPacket{
		TalkToMe: code.TalkToMe(0).WithReplyOnChange(true),
		Priority: code.DpAll,
	}
	return p.MarshalBinary()
}

// PollReply is what the controller advertises about itself.
type PollReply struct {
	IP        net.IP
	MAC       net.HardwareAddr
	ShortName string
	LongName  string
	Report    string
	Inputs    int
	Outputs   int
}

// marshalPollReply returns an ArtPollReply describing r as a node with up to
// four DMX ports.
func marshalPollReply(r PollReply) ([]byte, error) {
	report := make([]code.NodeReportCode, 0, len(r.Report))
	for i := 0; i < len(r.Report); i++ {
		report = append(report, code.NodeReportCode(r.Report[i]))
	}

	p := artnet.ArtPollReplyFromConfig(artnet.NodeConfig{
		Type:        code.StNode,
		Name:        r.ShortName,
		Description: r.LongName,
		Ethernet:    r.MAC,
		IP:          r.IP,
		BindIP:      r.IP,
		BindIndex:   1,
		Version:     1,
		Report:      report,
		Status2:     code.Status2(0).WithPort15(true),
	})

	ports := r.Inputs
	if r.Outputs > ports {
		ports = r.Outputs
	}
	if ports > 4 {
		ports = 4
	}
	p.NumPorts = uint16(ports)
	for i := 0; i < ports; i++ {
		typ := code.PortType(0).WithType("DMX512")
		if i < r.Inputs {
			typ = typ.WithInput(true)
			p.GoodInput[i] = code.GoodInput(0).WithData(true)
		}
		if i < r.Outputs {
			typ = typ.WithOutput(true)
			p.GoodOutput[i] = code.GoodOutput(0).WithData(true)
		}
		p.PortTypes[i] = typ
		p.SwIn[i] = uint8(i)
		p.SwOut[i] = uint8(i)
	}
	return p.MarshalBinary()
}

// NodeInfo is what a remote node says about itself.
type NodeInfo struct {
	ShortName string
	LongName  string
}

func nodeInfoOf(p *packet.ArtPollReplyPacket) NodeInfo {
	cfg := artnet.ConfigFromArtPollReply(*p)
	return NodeInfo{ShortName: cfg.Name, LongName: cfg.Description}
}

// universeToAddress splits a 15-bit port-address into Net and SubUni.
func universeToAddress(universe uint32) artnet.Address {
	return artnet.Address{
		Net:    uint8(universe>>8) & 0x7F,
		SubUni: uint8(universe),
	}
}

func addressToUniverse(a artnet.Address) uint32 {
	return uint32(a.Net&0x7F)<<8 | uint32(a.SubUni)
}

// marshalDmx encodes an ArtDmx for address using p as the outbound packet.
// A full packet always carries MaxChannels bytes, zero padded. A partial one
// carries exactly data: the library encoder fixes Length at 512, so the full
// encoding is cut down and its length field rewritten.
func marshalDmx(p *packet.ArtDMXPacket, seq uint8, address artnet.Address, data []byte, full bool) ([]byte, error) {
	if len(data) > MaxChannels {
		data = data[:MaxChannels]
	}
	p.Sequence = seq
	p.Physical = 0
	p.SubUni = address.SubUni
	p.Net = address.Net
	n := copy(p.Data[:], data)
	clear(p.Data[n:])

	b, err := p.MarshalBinary()
	if err != nil || full {
		return b, err
	}
	b = b[:dmxHeaderSize+n]
	binary.BigEndian.PutUint16(b[16:18], uint16(n))
	return b, nil
}

// dmxPayload returns the port-address and payload of a decoded ArtDmx.
func dmxPayload(p *packet.ArtDMXPacket) (uint32, []byte) {
	n := int(p.Length)
	if n > MaxChannels {
		n = MaxChannels
	}
	return addressToUniverse(artnet.Address{Net: p.Net, SubUni: p.SubUni}), p.Data[:n]
}
