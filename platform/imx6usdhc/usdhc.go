package imx6usdhc

import (
	"errors"
	"fmt"

	"github.com/openagbfw/sdmmc-core/internal/bits"
	"github.com/openagbfw/sdmmc-core/sdmmc"
)

// USDHC registers (p4012, 58.8 uSDHC Memory Map/Register Definition, IMX6ULLRM).
const (
	usdhc1Base = 0x02190000
	usdhc2Base = 0x02194000

	regBLKATT = 0x04

	regCMDARG = 0x08

	regCMDXFRTYP    = 0x0c
	cmdXfrTypCMDINX = 24
	cmdXfrTypDPSEL  = 21
	cmdXfrTypCICEN  = 20
	cmdXfrTypCCCEN  = 19
	cmdXfrTypRSPTYP = 16

	regCMDRSP0 = 0x10

	regPRESSTATE  = 0x24
	presStateWPSPL = 19
	presStateCDIHB = 1
	presStateCIHB  = 0

	regPROTCTRL = 0x28
	protCtrlDTW = 1

	regSYSCTRL  = 0x2c
	sysCtrlDTOCV = 16
	sysCtrlSDCLKFS = 8
	sysCtrlDVS     = 4

	regINTSTATUS = 0x30
	intStatusCC  = 0

	regMIXCTRL  = 0x48
	mixCtrlDTDSEL = 4
)

// Clock divider configuration (p348, 35.4.2, IMX6FG), base clock 198 MHz.
const (
	dvsID, sdclkfsID     = 8, 0x20 // ~400 kHz
	dvsDefault, sdclkfsDefault = 2, 0x02  // ~25 MHz
	dvsHS, sdclkfsHS     = 0, 0x02 // ~50 MHz

	baseClockHz = 198000000
)

// Response type encoding for CMD_XFR_TYP.RSPTYP, matching imx6/usdhc/cmd.go.
const (
	rspNone         = 0b00
	rspR2_136       = 0b01
	rsp48           = 0b10
	rsp48CheckBusy  = 0b11
)

// Wire opcodes this controller recognizes as carrying a data phase or a
// 136-bit response, needed because sdmmc.HostController.SendCommand passes
// neither a direction flag nor a response type explicitly — the same
// duplication-for-independence rationale as sdmmctest's opcode table.
const (
	opReadSingleBlock    = 17
	opReadMultipleBlock  = 18
	opWriteSingleBlock   = 24
	opWriteMultipleBlock = 25
	opSendCSD            = 9
	opAllSendCID         = 2
	opSwitch             = 6
)

const pollTries = 100000

// USDHC is a reference sdmmc.HostController bound to one of the SoC's two
// uSDHC instances.
type USDHC struct {
	n     int
	base  uint32
	width int

	resp [4]uint32

	buf       []byte
	bufBlocks int
}

// New returns a controller for uSDHC instance n (1 or 2).
func New(n int) *USDHC {
	return &USDHC{n: n}
}

func (hw *USDHC) InitPort(slot sdmmc.Slot) error {
	switch hw.n {
	case 1:
		hw.base = usdhc1Base
	case 2:
		hw.base = usdhc2Base
	default:
		return errors.New("invalid uSDHC controller instance")
	}
	if !hw.validSlot(slot) {
		return errors.New("invalid slot")
	}
	hw.width = 1
	return nil
}

// validSlot re-derives the sdmmc.Slot validity check locally since
// sdmmc.Slot.valid is unexported.
func (hw *USDHC) validSlot(slot sdmmc.Slot) bool {
	return slot == sdmmc.SlotCard || slot == sdmmc.SlotEMMC
}

func (hw *USDHC) reg(offset uint32) uint32 {
	return hw.base + offset
}

func (hw *USDHC) setClock(dvs, sdclkfs uint32) {
	sys := regRead(hw.reg(regSYSCTRL))
	bits.SetN(&sys, sysCtrlDVS, 0xf, dvs)
	bits.SetN(&sys, sysCtrlSDCLKFS, 0xff, sdclkfs)
	regWrite(hw.reg(regSYSCTRL), sys)
}

func (hw *USDHC) SetClockImmediately(cfg sdmmc.ClockConfig) {
	hw.applyClock(cfg)
}

func (hw *USDHC) SetClock(cfg sdmmc.ClockConfig) {
	hw.applyClock(cfg)
}

func (hw *USDHC) applyClock(cfg sdmmc.ClockConfig) {
	switch cfg.Speed {
	case sdmmc.ClockIdentification:
		hw.setClock(dvsID, sdclkfsID)
	case sdmmc.ClockHigh:
		hw.setClock(dvsHS, sdclkfsHS)
	default:
		hw.setClock(dvsDefault, sdclkfsDefault)
	}
}

func (hw *USDHC) SetBusWidth(n int) error {
	var dtw uint32
	switch n {
	case 1:
		dtw = 0b00
	case 4:
		dtw = 0b01
	case 8:
		dtw = 0b10
	default:
		return errors.New("unsupported bus width")
	}
	regSetN(hw.reg(regPROTCTRL), protCtrlDTW, 0b11, dtw)
	hw.width = n
	return nil
}

func (hw *USDHC) SetBlockLen(bytes int) error {
	blkAtt := regRead(hw.reg(regBLKATT))
	bits.SetN(&blkAtt, 0, 0xffff, uint32(bytes))
	regWrite(hw.reg(regBLKATT), blkAtt)
	return nil
}

// SetBuffer records the caller-owned buffer; a full implementation would
// program USDHCx_ADMA_SYS_ADDR with its physical address and build an
// ADMA2 descriptor chain, which is out of scope here.
func (hw *USDHC) SetBuffer(buf []byte, blocks int) {
	hw.buf = buf
	hw.bufBlocks = blocks
}

// commandXfrType packs the CMD_XFR_TYP register fields for one command.
// Factored out of SendCommand so it can be unit tested without touching
// any register.
func commandXfrType(index uint32, rspType uint32, hasData bool) uint32 {
	var xfr uint32
	bits.SetN(&xfr, cmdXfrTypCMDINX, 0x3f, index)
	bits.SetN(&xfr, cmdXfrTypRSPTYP, 0b11, rspType)
	bits.Set(&xfr, cmdXfrTypCICEN)
	bits.Set(&xfr, cmdXfrTypCCCEN)
	if hasData {
		bits.Set(&xfr, cmdXfrTypDPSEL)
	}
	return xfr
}

// responseType picks the RSPTYP field for a command, mirroring the
// per-opcode response-type table the original driver's sd.go/mmc.go
// callers pass explicitly to cmd().
func responseType(opcode uint32) uint32 {
	switch opcode {
	case opAllSendCID, opSendCSD:
		return rspR2_136
	default:
		return rsp48
	}
}

func hasDataPhase(opcode uint32) bool {
	switch opcode {
	case opReadSingleBlock, opReadMultipleBlock, opWriteSingleBlock, opWriteMultipleBlock, opSwitch:
		return true
	default:
		return false
	}
}

func (hw *USDHC) SendCommand(opcode uint32, arg uint32) error {
	regWrite(hw.reg(regINTSTATUS), 0xffffffff)

	if !regWaitFor(hw.reg(regPRESSTATE), presStateCIHB, 1, 0, pollTries) {
		return sdmmc.ErrCmdTimeout
	}

	regWrite(hw.reg(regCMDARG), arg)

	xfr := commandXfrType(opcode, responseType(opcode), hasDataPhase(opcode))
	mix := regRead(hw.reg(regMIXCTRL))
	bits.SetN(&mix, mixCtrlDTDSEL, 1, 0)
	regWrite(hw.reg(regMIXCTRL), mix)
	regWrite(hw.reg(regCMDXFRTYP), xfr)

	if !regWaitFor(hw.reg(regINTSTATUS), intStatusCC, 1, 1, pollTries) {
		return sdmmc.ErrCmdTimeout
	}

	status := regRead(hw.reg(regINTSTATUS))
	if status>>16 > 0 {
		return fmt.Errorf("CMD%d error, interrupt status %#x", opcode, status)
	}

	for i := 0; i < 4; i++ {
		hw.resp[i] = regRead(hw.reg(regCMDRSP0) + uint32(i)*4)
	}

	// A real implementation would DMA the data phase (if any) into
	// hw.buf via USDHCx_ADMA_SYS_ADDR here; with no ADMA2 descriptor
	// chain wired up, hw.buf is recorded by SetBuffer but never filled.
	return nil
}

func (hw *USDHC) Response(i int) uint32 {
	if i < 0 || i > 3 {
		return 0
	}
	return hw.resp[i]
}

func (hw *USDHC) CardSliderUnlocked() bool {
	return regGet(hw.reg(regPRESSTATE), presStateWPSPL, 1) == 1
}

func (hw *USDHC) ClockDivider() (hclk uint32, divider uint8) {
	sys := regRead(hw.reg(regSYSCTRL))
	return baseClockHz, uint8((sys >> sysCtrlSDCLKFS) & 0xff)
}
