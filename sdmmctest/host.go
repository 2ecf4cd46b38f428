// Package sdmmctest provides a simulated HostController and a simulated
// card responder for exercising the sdmmc core without real silicon.
//
// Grounded on the emulated-card style of gmofishsauce-wut4/emul/sdcard.go
// (explicit state, no hidden global state, command dispatch by opcode),
// adapted from SPI byte-level emulation to the command/argument/response
// shape sdmmc.HostController expects.
package sdmmctest

import (
	"sync"

	"github.com/openagbfw/sdmmc-core/sdmmc"
)

// Responder answers a command the way a real card would: given the
// opcode and argument (and, via h, the currently programmed DMA
// buffer), it returns the response words and any host-level error.
type Responder interface {
	Command(h *Host, opcode uint32, arg uint32) (resp [4]uint32, err error)
}

// Host is a simulated sdmmc.HostController. Tests configure a Responder
// (typically a *Card from this package) and inspect Host's recorded
// state (LastOpcode, LastArg, BusWidth, ClockCfg, ...) to assert on what
// the core actually sent.
type Host struct {
	mu sync.Mutex

	Card Responder

	BoundSlot sdmmc.Slot
	ClockCfg  sdmmc.ClockConfig
	BusWidth  int
	BlockLen  int

	Buffer       []byte
	BufferBlocks int

	SliderUnlocked bool

	// HCLK and Divider back ClockDivider; defaults give a plausible
	// non-zero clock frequency if left unset.
	HCLK    uint32
	Divider uint8

	resp [4]uint32

	LastOpcode uint32
	LastArg    uint32
}

// NewHost returns a Host with an unlocked slider and a nominal 198 MHz
// clock source, matching the i.MX6 uSDHC's undivided input clock.
func NewHost(card Responder) *Host {
	return &Host{
		Card:           card,
		SliderUnlocked: true,
		HCLK:           198000000,
		Divider:        2,
	}
}

func (h *Host) InitPort(slot sdmmc.Slot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.BoundSlot = slot
	return nil
}

func (h *Host) SetClockImmediately(cfg sdmmc.ClockConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ClockCfg = cfg
}

func (h *Host) SetClock(cfg sdmmc.ClockConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ClockCfg = cfg
}

func (h *Host) SetBusWidth(n int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.BusWidth = n
	return nil
}

func (h *Host) SetBlockLen(bytes int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.BlockLen = bytes
	return nil
}

func (h *Host) SetBuffer(buf []byte, blocks int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Buffer = buf
	h.BufferBlocks = blocks
}

func (h *Host) SendCommand(opcode uint32, arg uint32) error {
	h.mu.Lock()
	h.LastOpcode = opcode
	h.LastArg = arg
	h.mu.Unlock()

	resp, err := h.Card.Command(h, opcode, arg)

	h.mu.Lock()
	h.resp = resp
	h.mu.Unlock()

	return err
}

func (h *Host) Response(i int) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resp[i]
}

func (h *Host) CardSliderUnlocked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.SliderUnlocked
}

func (h *Host) ClockDivider() (hclk uint32, divider uint8) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.HCLK, h.Divider
}
