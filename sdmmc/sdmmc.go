package sdmmc

import (
	"sync"
	"time"
)

// CardType discriminates the card families and addressing modes this core
// tells apart. CardNone means the slot holds no meaningful state.
type CardType int

const (
	CardNone CardType = iota
	CardMMC
	CardMMCHC
	CardSDSC
	CardSDHC
	CardSDUC
)

func (t CardType) String() string {
	switch t {
	case CardNone:
		return "none"
	case CardMMC:
		return "mmc"
	case CardMMCHC:
		return "mmc-hc"
	case CardSDSC:
		return "sdsc"
	case CardSDHC:
		return "sdhc"
	case CardSDUC:
		return "sduc"
	default:
		return "unknown"
	}
}

// highCapacity reports whether addressing for this card type is
// block-based (true) rather than byte-based (false).
func (t CardType) highCapacity() bool {
	return t == CardMMCHC || t == CardSDHC || t == CardSDUC
}

// Info is the read-only snapshot returned by Card.GetInfo.
type Info struct {
	Type     CardType
	SpecVers uint8
	RCA      uint16
	Sectors  uint32
	ClockHz  uint32
	CID      [16]byte
	CCC      uint16
	BusWidth int
}

// Card is one slot's device record plus the host collaborator bound to it.
// The two process-wide instances are Slot0 (removable card) and Slot1
// (eMMC), mirroring the teacher's package-level USDHC1/USDHC2 singletons.
type Card struct {
	sync.Mutex

	slot Slot
	host HostController

	cardType CardType
	specVers uint8
	rca      uint16
	ccc      uint16
	sectors  uint32
	cid      [16]byte
	busWidth int

	// now and sleep back the OCR polling deadline and are overridden in
	// tests to avoid a real 1-second wait; they default to the real
	// clock in production use.
	now   func() time.Time
	sleep func(time.Duration)
}

// Slot0 is the removable SD card slot.
var Slot0 = &Card{slot: SlotCard}

// Slot1 is the embedded MMC (eMMC) slot.
var Slot1 = &Card{slot: SlotEMMC}

func (c *Card) clock() func() time.Time {
	if c.now != nil {
		return c.now
	}
	return time.Now
}

func (c *Card) wait(d time.Duration) {
	if c.sleep != nil {
		c.sleep(d)
		return
	}
	time.Sleep(d)
}

// Init brings host, freshly bound to slot, from power-up to transfer
// state, populating the card's device record. It returns ErrInitialized
// if the slot is already active and issues no commands in that case.
func (c *Card) Init(host HostController) error {
	c.Lock()
	defer c.Unlock()

	if c.cardType != CardNone {
		return ErrInitialized
	}
	if host == nil {
		return ErrInvalParam
	}

	return initCard(c, host)
}

// Deinit resets the slot to CardNone without instructing the card; the
// slot is expected to power-cycle before its next use.
func (c *Card) Deinit() error {
	c.Lock()
	defer c.Unlock()

	c.host = nil
	c.cardType = CardNone
	c.specVers = 0
	c.rca = 0
	c.ccc = 0
	c.sectors = 0
	c.cid = [16]byte{}
	c.busWidth = 0
	return nil
}

// GetInfo returns a snapshot of the device record with no card
// interaction, deriving ClockHz from the host's clock divider.
func (c *Card) GetInfo() (Info, error) {
	c.Lock()
	defer c.Unlock()

	if c.cardType == CardNone {
		return Info{}, ErrNoCard
	}

	var clockHz uint32
	if c.host != nil {
		hclk, divider := c.host.ClockDivider()
		if divider != 0 {
			clockHz = hclk / (uint32(divider) << 2)
		} else {
			clockHz = hclk / 2
		}
	}

	return Info{
		Type:     c.cardType,
		SpecVers: c.specVers,
		RCA:      c.rca,
		Sectors:  c.sectors,
		ClockHz:  clockHz,
		CID:      c.cid,
		CCC:      c.ccc,
		BusWidth: c.busWidth,
	}, nil
}

// GetCID returns the raw 128-bit CID, CRC stripped, or the zero value
// alongside ErrNoCard if the slot is uninitialized.
func (c *Card) GetCID() ([16]byte, error) {
	c.Lock()
	defer c.Unlock()

	if c.cardType == CardNone {
		return [16]byte{}, ErrNoCard
	}
	return c.cid, nil
}

// GetSectors returns the card's capacity in 512-byte units, or 0 if the
// slot is uninitialized.
func (c *Card) GetSectors() uint32 {
	c.Lock()
	defer c.Unlock()

	return c.sectors
}

// shiftedRCA is the RCA placed in bits [31:16] of most post-identification
// command arguments.
func (c *Card) shiftedRCA() uint32 {
	return uint32(c.rca) << 16
}
