package sdmmc

import (
	"errors"
	"time"
)

// OCR bits for the ACMD41/CMD1 operating-condition argument: a 3.2-3.3 V
// voltage window (bit 20) plus, for SD only, XPC (bit 28) and HCS (bit 30)
// when the host wants to offer high-capacity addressing. CCS and busy are
// read back from the card's OCR response.
const (
	ocrVoltage32to33 = 1 << 20
	ocrXPC           = 1 << 28
	ocrHCS           = 1 << 30
	ocrCCS           = 1 << 30 // same bit position, read back from the card
	ocrBusy          = 1 << 31
)

const cardIsLocked = 1 << 25 // R1 bit 25

const ocrPollInterval = 5 * time.Millisecond
const ocrPollBudget = 1 * time.Second
const ocrPollMaxTries = 200

// clockWarmupDelay is the host-side wait after applying the
// identification clock and before the first command: at least 74 clock
// cycles times a 2x host-side safety margin (148 cycles), at the ~261
// kHz identification clock this design targets, rounded up.
const clockWarmupDelay = 600 * time.Microsecond

// initCard drives host, freshly bound to slot, through the card state
// machine from power-up to transfer state, writing the result into c.
// Named phase functions mirror initIdleState/initReadyState/
// initIdentState/initStandbyState/initTranState in the original driver
// this core is ported from.
func initCard(c *Card, host HostController) error {
	if !c.slot.valid() {
		return ErrInvalParam
	}
	if err := host.InitPort(c.slot); err != nil {
		return wrap(ErrInvalParam, err)
	}
	c.host = host

	initPowerUp(c, host)

	if err := goIdleState(host); err != nil {
		return err
	}

	if err := initReadyState(c, host); err != nil {
		return err
	}

	if err := initIdentState(c, host); err != nil {
		return err
	}

	if err := initAddressState(c, host); err != nil {
		return err
	}

	if err := initStandbyState(c, host); err != nil {
		return err
	}

	if err := initTranState(c, host); err != nil {
		return err
	}

	return nil
}

// initPowerUp applies the initialization clock, holds it running (no
// auto-off) for the warm-up pulses the card specs mandate, and waits
// clockWarmupDelay before the first command so those pulses have time
// to reach the card.
func initPowerUp(c *Card, host HostController) {
	host.SetClockImmediately(ClockConfig{Speed: ClockIdentification, AutoOff: false})
	c.wait(clockWarmupDelay)
}

// initReadyState runs phase 2: SEND_IF_COND-based card-type
// discrimination followed by OCR polling.
func initReadyState(c *Card, host HostController) error {
	const ifCondArg = 0x100 | 0xAA // voltage 2.7-3.6V supplied, check pattern 0xAA

	var sdv2 bool
	sendErr := host.SendCommand(cmdSendIfCond, ifCondArg)
	switch {
	case sendErr == nil:
		if host.Response(0) != ifCondArg {
			return ErrIfCondResp
		}
		sdv2 = true
	case errors.Is(sendErr, ErrCmdTimeout):
		sdv2 = false
	default:
		return wrap(ErrSendIfCond, sendErr)
	}

	opCondArg := uint32(ocrXPC | ocrVoltage32to33)
	if sdv2 {
		opCondArg |= ocrHCS
	}

	probeErr := sendAppCmd(host, 0, acmdSDSendOpCond, opCondArg)
	switch {
	case probeErr == nil:
		cardType, err := pollSDOpCond(c, host, opCondArg)
		if err != nil {
			return err
		}
		c.cardType = cardType
		return nil
	case errors.Is(probeErr, ErrCmdTimeout):
		cardType, err := pollMMCOpCond(c, host)
		if err != nil {
			return err
		}
		c.cardType = cardType
		return nil
	default:
		return wrap(ErrSendOpCond, probeErr)
	}
}

// pollSDOpCond polls ACMD41 until the card reports busy-cleared or the
// budget is exhausted. The loop re-issues ACMD41 at the top of every
// iteration so it always reads a fresh OCR (see DESIGN.md Open
// Questions for why this departs from the original, which read stale
// response state on its first iteration).
func pollSDOpCond(c *Card, host HostController, arg uint32) (CardType, error) {
	dl := newDeadline(c.clock(), ocrPollBudget)

	for tries := 0; tries < ocrPollMaxTries; tries++ {
		if err := sendAppCmd(host, 0, acmdSDSendOpCond, arg); err != nil {
			return CardNone, wrap(ErrSendOpCond, err)
		}
		ocr := host.Response(0)
		if ocr&ocrBusy != 0 {
			if ocr&ocrVoltage32to33 == 0 {
				return CardNone, ErrVoltSupport
			}
			if ocr&ocrCCS != 0 {
				return CardSDHC, nil
			}
			return CardSDSC, nil
		}
		if dl.expired() {
			break
		}
		c.wait(ocrPollInterval)
	}
	return CardNone, ErrOpCondTmout
}

// pollMMCOpCond polls native CMD1 (no APP_CMD prefix) the same way.
func pollMMCOpCond(c *Card, host HostController) (CardType, error) {
	const arg = ocrVoltage32to33

	dl := newDeadline(c.clock(), ocrPollBudget)

	for tries := 0; tries < ocrPollMaxTries; tries++ {
		if err := host.SendCommand(cmdSendOpCondMMC, arg); err != nil {
			return CardNone, wrap(ErrSendOpCond, err)
		}
		ocr := host.Response(0)
		if ocr&ocrBusy != 0 {
			if ocr&ocrVoltage32to33 == 0 {
				return CardNone, ErrVoltSupport
			}
			return CardMMC, nil
		}
		if dl.expired() {
			break
		}
		c.wait(ocrPollInterval)
	}
	return CardNone, ErrOpCondTmout
}

// initIdentState runs phase 3: drop to the identification clock and
// fetch the CID.
func initIdentState(c *Card, host HostController) error {
	host.SetClock(ClockConfig{Speed: ClockIdentification, AutoOff: true})

	if err := host.SendCommand(cmdAllSendCID, 0); err != nil {
		return wrap(ErrAllSendCID, err)
	}

	for i := 0; i < 4; i++ {
		w := host.Response(i)
		c.cid[i*4+0] = byte(w >> 24)
		c.cid[i*4+1] = byte(w >> 16)
		c.cid[i*4+2] = byte(w >> 8)
		c.cid[i*4+3] = byte(w)
	}
	return nil
}

// initAddressState runs phase 4: RCA assignment. MMC always picks 1;
// SD reads the card-chosen value out of the response.
func initAddressState(c *Card, host HostController) error {
	if c.cardType == CardMMC || c.cardType == CardMMCHC {
		if err := host.SendCommand(cmdMMCSetRelativeAdr, 1<<16); err != nil {
			return wrap(ErrSetSendRCA, err)
		}
		c.rca = 1
		return nil
	}

	if err := host.SendCommand(cmdSDSendRelativeAdr, 0); err != nil {
		return wrap(ErrSetSendRCA, err)
	}
	c.rca = uint16(host.Response(0) >> 16)
	return nil
}

// initStandbyState runs phase 5: raise the clock to the default speed,
// fetch and decode the CSD, select the card, and reject it if locked.
func initStandbyState(c *Card, host HostController) error {
	host.SetClock(ClockConfig{Speed: ClockDefault, AutoOff: true})

	if err := host.SendCommand(cmdSendCSD, c.shiftedRCA()); err != nil {
		return wrap(ErrSendCSD, err)
	}

	var csd [4]uint32
	for i := range csd {
		csd[i] = host.Response(i)
	}
	cap := decodeCSD(csd, c.cardType)
	c.specVers = cap.specVers
	c.ccc = cap.ccc
	c.sectors = cap.sectors

	if err := host.SendCommand(cmdSelectCard, c.shiftedRCA()); err != nil {
		return wrap(ErrSelectCard, err)
	}
	if host.Response(0)&cardIsLocked != 0 {
		return ErrLocked
	}

	c.busWidth = 1
	return nil
}

// initTranState runs phase 6: bus-width and high-speed tuning, branching
// by card family.
func initTranState(c *Card, host HostController) error {
	if c.cardType == CardMMC || c.cardType == CardMMCHC {
		return tuneMMC(c, host)
	}
	return tuneSD(c, host)
}

// tuneMMC switches to a 4-bit bus and high-speed timing, but only for
// MMC spec version 4 and above; very old 1-bit MMCs fault on SWITCH.
func tuneMMC(c *Card, host HostController) error {
	if c.specVers < 4 {
		return nil
	}

	const mmcSwitchWriteByte = 3
	const extCSDBusWidth = 183
	const extCSDHSTiming = 185

	if err := host.SendCommand(cmdSwitch, switchArg(mmcSwitchWriteByte, extCSDBusWidth, 1, 0)); err != nil {
		return wrap(ErrSetBusWidth, err)
	}
	if err := host.SetBusWidth(4); err != nil {
		return wrap(ErrSetBusWidth, err)
	}
	c.busWidth = 4

	if err := host.SendCommand(cmdSwitch, switchArg(mmcSwitchWriteByte, extCSDHSTiming, 1, 0)); err != nil {
		return wrap(ErrSwitchHS, err)
	}
	host.SetClock(ClockConfig{Speed: ClockHigh, AutoOff: true})
	return nil
}

// tuneSD disables the DAT3 card-detect pull-up, switches to a 4-bit bus,
// and if the card advertises class-10 switch-function support, attempts
// the SWITCH_FUNC high-speed mode.
func tuneSD(c *Card, host HostController) error {
	if err := sendAppCmd(host, c.shiftedRCA(), acmdSetClrCardDetect, 0); err != nil {
		return wrap(ErrSetClrCD, err)
	}

	if err := sendAppCmd(host, c.shiftedRCA(), acmdSetBusWidth, 2); err != nil {
		return wrap(ErrSetBusWidth, err)
	}
	if err := host.SetBusWidth(4); err != nil {
		return wrap(ErrSetBusWidth, err)
	}
	c.busWidth = 4

	const ccClassSwitchFunc = 1 << 10
	if c.ccc&ccClassSwitchFunc == 0 {
		return nil
	}

	if err := host.SetBlockLen(64); err != nil {
		return wrap(ErrSwitchHS, err)
	}
	var status [64]byte
	host.SetBuffer(status[:], 1)

	const sdSwitchFuncGroup1HighSpeed = 1
	if err := host.SendCommand(cmdSwitch, sdSwitchFuncArg(1, sdSwitchFuncGroup1HighSpeed)); err != nil {
		return wrap(ErrSwitchHS, err)
	}

	// Function-group-1 support bitmap occupies bits [415:400] of the
	// 512-bit status, stored MSB-first (status[0] = bits [511:504]), so
	// byte 400/8 lands at index 63-400/8 = 13; bit 1 of that byte reports
	// whether High Speed was accepted.
	if status[63-400/8]&0x02 != 0 {
		host.SetClock(ClockConfig{Speed: ClockHigh, AutoOff: true})
	}

	if err := host.SetBlockLen(512); err != nil {
		return wrap(ErrSwitchHS, err)
	}
	return nil
}
