package dsp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

var (
	ErrHostUnavailable = errors.New("real-time audio host unavailable")
	ErrHostStarted     = errors.New("audio host already started")
	ErrPortFull        = errors.New("dsp port full")
	ErrPortClosed      = errors.New("dsp port closed")
)

const portBuffer = 64

// Processor runs on the host goroutine only. HandleMessage is called between
// blocks, never concurrently with Process.
type Processor interface {
	HandleMessage(Message)
	Process(in, out [][]float32, post func(Message))
}

// BlockReader fills buf with the next block; it blocks until one is available.
type BlockReader interface {
	ReadBlock(buf [][]float32) error
}

type BlockWriter interface {
	WriteBlock(buf [][]float32) error
}

// Port is the message channel pair between the control side and one node.
type Port struct {
	toNode   chan []byte
	fromNode chan []byte
	dropped  atomic.Uint64
	closed   atomic.Bool
}

func newPort() *Port {
	return &Port{
		toNode:   make(chan []byte, portBuffer),
		fromNode: make(chan []byte, portBuffer),
	}
}

// PostMessage sends a message to the node. It never blocks.
func (p *Port) PostMessage(m Message) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	return p.PostRaw(data)
}

// PostRaw sends an already encoded message.
func (p *Port) PostRaw(data []byte) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	select {
	case p.toNode <- data:
		return nil
	default:
		return ErrPortFull
	}
}

// Messages yields encoded messages emitted by the node.
func (p *Port) Messages() <-chan []byte { return p.fromNode }

// Dropped counts node messages lost because the control side lagged.
func (p *Port) Dropped() uint64 { return p.dropped.Load() }

type node struct {
	name string
	proc Processor
	port *Port
	post func(Message)
}

type HostConfig struct {
	SampleRate  int
	Channels    int
	BlockFrames int
}

// Host is the real-time audio domain: one goroutine running a chain of
// processors block by block. The control side talks to it through Ports only.
type Host struct {
	cfg     HostConfig
	nodes   []*node
	bufs    [2][][]float32
	started atomic.Bool
}

func NewHost(cfg HostConfig) (*Host, error) {
	if cfg.SampleRate <= 0 || cfg.Channels <= 0 || cfg.BlockFrames <= 0 {
		return nil, fmt.Errorf("%w: sample_rate=%d channels=%d block=%d",
			ErrHostUnavailable, cfg.SampleRate, cfg.Channels, cfg.BlockFrames)
	}
	h := &Host{cfg: cfg}
	for i := range h.bufs {
		h.bufs[i] = NewBlock(cfg.Channels, cfg.BlockFrames)
	}
	return h, nil
}

// NewBlock allocates a channels x frames buffer.
func NewBlock(channels, frames int) [][]float32 {
	b := make([][]float32, channels)
	for c := range b {
		b[c] = make([]float32, frames)
	}
	return b
}

func (h *Host) Config() HostConfig { return h.cfg }

// AddNode appends a processor to the chain and returns its port.
func (h *Host) AddNode(name string, p Processor) (*Port, error) {
	if h.started.Load() {
		return nil, ErrHostStarted
	}
	port := newPort()
	n := &node{name: name, proc: p, port: port}
	n.post = func(m Message) {
		if port.closed.Load() {
			return
		}
		data, err := Encode(m)
		if err != nil {
			return
		}
		select {
		case port.fromNode <- data:
		default:
			port.dropped.Add(1)
		}
	}
	h.nodes = append(h.nodes, n)
	return port, nil
}

// ProcessBlock runs one block through the chain. The returned slice is owned
// by the host and valid until the next call.
func (h *Host) ProcessBlock(in [][]float32) [][]float32 {
	cur := in
	for i, n := range h.nodes {
		h.drain(n)
		out := h.bufs[i%2]
		n.proc.Process(cur, out, n.post)
		cur = out
	}
	return cur
}

// drain applies pending control messages. Undecodable or unknown messages are dropped.
func (h *Host) drain(n *node) {
	for {
		select {
		case raw := <-n.port.toNode:
			msg, err := Decode(raw)
			if err != nil {
				continue
			}
			n.proc.HandleMessage(msg)
		default:
			return
		}
	}
}

// Run processes blocks from src into dst until ctx is done or either side fails.
func (h *Host) Run(ctx context.Context, src BlockReader, dst BlockWriter) error {
	if !h.started.CompareAndSwap(false, true) {
		return ErrHostStarted
	}
	defer h.closePorts()

	in := NewBlock(h.cfg.Channels, h.cfg.BlockFrames)
	logger := log.With().Str("module", "dsp.host").Int("sample_rate", h.cfg.SampleRate).Logger()
	logger.Debug().Int("nodes", len(h.nodes)).Msg("audio host started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("audio host ctx done")
			return nil
		default:
		}
		if err := src.ReadBlock(in); err != nil {
			return fmt.Errorf("read block: %w", err)
		}
		if err := dst.WriteBlock(h.ProcessBlock(in)); err != nil {
			return fmt.Errorf("write block: %w", err)
		}
	}
}

func (h *Host) closePorts() {
	for _, n := range h.nodes {
		if n.port.closed.CompareAndSwap(false, true) {
			close(n.port.fromNode)
		}
	}
}
