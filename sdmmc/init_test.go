package sdmmc

import (
	"errors"
	"testing"
	"time"

	"github.com/openagbfw/sdmmc-core/sdmmctest"
)

func newTestCard(slot Slot) *Card {
	c := &Card{slot: slot}
	c.sleep = func(time.Duration) {} // polling tests must not really sleep
	return c
}

func TestInitSDHC(t *testing.T) {
	card := &sdmmctest.Card{
		IfCondEcho: true,
		SDOCRSeq:   []uint32{0xC0FF8000}, // busy-cleared, CCS=1, 3.3V window
		CID:        [4]uint32{0x11223344, 0x55667788, 0x99aabbcc, 0xddeeff00},
		RCA:        0xaaaa,
	}
	resp := packCSDv1(1, 0x5b5, 7737)
	card.CSD = resp
	host := sdmmctest.NewHost(card)

	c := newTestCard(SlotCard)
	if err := c.Init(host); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if c.cardType != CardSDHC {
		t.Errorf("cardType = %v, want SDHC", c.cardType)
	}
	wantSectors := (uint32(7737) + 1) * 1024
	if c.sectors != wantSectors {
		t.Errorf("sectors = %d, want %d", c.sectors, wantSectors)
	}
	wantCID := [16]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00}
	if c.cid != wantCID {
		t.Errorf("cid = %x, want %x", c.cid, wantCID)
	}
	if c.busWidth != 4 {
		t.Errorf("busWidth = %d, want 4", c.busWidth)
	}
}

func TestInitSDSCByteAddressing(t *testing.T) {
	card := &sdmmctest.Card{
		IfCondEcho: false, // CMD8 times out -> SD v1
		SDOCRSeq:   []uint32{0x80FF8000}, // busy-cleared, CCS=0
	}
	card.CSD = packCSDv1(1, 0, 1000)
	host := sdmmctest.NewHost(card)

	c := newTestCard(SlotCard)
	if err := c.Init(host); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c.cardType != CardSDSC {
		t.Errorf("cardType = %v, want SDSC", c.cardType)
	}
	if c.cardType.highCapacity() {
		t.Errorf("SDSC must use byte addressing")
	}
}

func TestInitMMC(t *testing.T) {
	card := &sdmmctest.Card{
		IfCondEcho: false,
		MMCOCRSeq:  []uint32{0x80FF8080},
	}
	card.CSD = packCSD(0, 3, 0x5b5, 9, 10, 2) // spec_vers 3: SWITCH must be skipped
	host := sdmmctest.NewHost(card)

	c := newTestCard(SlotEMMC)
	if err := c.Init(host); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c.cardType != CardMMC {
		t.Errorf("cardType = %v, want MMC", c.cardType)
	}
	if c.rca != 1 {
		t.Errorf("rca = %d, want 1", c.rca)
	}
	if c.busWidth != 1 {
		t.Errorf("busWidth = %d, want 1 (SWITCH skipped for spec_vers<4)", c.busWidth)
	}
	if host.BusWidth != 0 {
		t.Errorf("host.SetBusWidth must not be called when spec_vers<4")
	}
}

func TestInitMMCHighSpecVersSwitchesBusWidth(t *testing.T) {
	card := &sdmmctest.Card{
		IfCondEcho: false,
		MMCOCRSeq:  []uint32{0x80FF8080},
	}
	card.CSD = packCSD(0, 5, 0x5b5, 9, 10, 2) // spec_vers 5 >= 4
	host := sdmmctest.NewHost(card)

	c := newTestCard(SlotEMMC)
	if err := c.Init(host); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if c.busWidth != 4 {
		t.Errorf("busWidth = %d, want 4", c.busWidth)
	}
	if host.BusWidth != 4 {
		t.Errorf("host.BusWidth = %d, want 4", host.BusWidth)
	}
}

func TestInitSDHighSpeedSwitch(t *testing.T) {
	card := &sdmmctest.Card{
		IfCondEcho: true,
		SDOCRSeq:   []uint32{0xC0FF8000},
		RCA:        0xaaaa,
	}
	card.CSD = packCSDv1(1, 0x5b5, 7737) // ccc bit 10 set: class-10 switch support
	card.SwitchStatus[13] = 0x02         // function-group-1 bit 1: High Speed accepted
	host := sdmmctest.NewHost(card)

	c := newTestCard(SlotCard)
	if err := c.Init(host); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if host.ClockCfg.Speed != ClockHigh {
		t.Errorf("ClockCfg.Speed = %v, want ClockHigh", host.ClockCfg.Speed)
	}
}

func TestInitOCRTimeout(t *testing.T) {
	card := &sdmmctest.Card{
		IfCondEcho: true,
		SDOCRSeq:   []uint32{0x00FF8000}, // busy bit never clears
	}
	host := sdmmctest.NewHost(card)

	c := newTestCard(SlotCard)
	err := c.Init(host)
	if !errors.Is(err, ErrOpCondTmout) {
		t.Fatalf("Init err = %v, want ErrOpCondTmout", err)
	}
}

func TestInitLockedCard(t *testing.T) {
	card := &sdmmctest.Card{
		IfCondEcho: true,
		SDOCRSeq:   []uint32{0xC0FF8000},
		Locked:     true,
	}
	card.CSD = packCSDv1(1, 0x5b5, 100)
	host := sdmmctest.NewHost(card)

	c := newTestCard(SlotCard)
	err := c.Init(host)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("Init err = %v, want ErrLocked", err)
	}
}

func TestInitAlreadyInitialized(t *testing.T) {
	c := newTestCard(SlotCard)
	c.cardType = CardSDSC

	card := &sdmmctest.Card{IfCondEcho: true}
	host := sdmmctest.NewHost(card)

	err := c.Init(host)
	if !errors.Is(err, ErrInitialized) {
		t.Fatalf("Init err = %v, want ErrInitialized", err)
	}
	if host.LastOpcode != 0 {
		t.Errorf("no command should have been issued, saw opcode %d", host.LastOpcode)
	}
}

func TestInitInvalidSlot(t *testing.T) {
	c := newTestCard(Slot(99))

	card := &sdmmctest.Card{IfCondEcho: true}
	host := sdmmctest.NewHost(card)

	err := c.Init(host)
	if !errors.Is(err, ErrInvalParam) {
		t.Fatalf("Init err = %v, want ErrInvalParam", err)
	}
	if host.LastOpcode != 0 {
		t.Errorf("no command should have been issued, saw opcode %d", host.LastOpcode)
	}
}
