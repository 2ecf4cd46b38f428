package sdmmc

import "github.com/openagbfw/sdmmc-core/internal/bits"

// Command indices. SD and (e)MMC reuse the same numbers for the commands
// this core issues; only the argument encoding and response shape differ,
// and those differences are handled by the phase code, not by the opcode
// table (see DESIGN.md, "Opcode-number overloading").
const (
	cmdGoIdleState        = 0  // GO_IDLE_STATE
	cmdAllSendCID         = 2  // ALL_SEND_CID
	cmdMMCSetRelativeAdr  = 3  // SET_RELATIVE_ADDR (MMC)
	cmdSendIfCond         = 8  // SEND_IF_COND (SD)
	cmdSendOpCondMMC      = 1  // SEND_OP_COND (MMC)
	cmdSendCSD            = 9  // SEND_CSD
	cmdSelectCard         = 7  // SELECT_CARD (same number, SD and MMC)
	cmdSwitch             = 6  // SWITCH (MMC) / SWITCH_FUNC (SD)
	cmdSDSendRelativeAdr  = 3  // SEND_RELATIVE_ADDR (SD) — same wire number as CMD3
	cmdSetBlockLen        = 16 // SET_BLOCKLEN
	cmdReadSingleBlock    = 17
	cmdReadMultipleBlock  = 18
	cmdWriteSingleBlock   = 24
	cmdWriteMultipleBlock = 25
	cmdAppCmd             = 55 // APP_CMD (prefixes an application command)

	acmdSDSendOpCond     = 41 // SD_SEND_OP_COND
	acmdSetBusWidth      = 6  // SET_BUS_WIDTH (SD)
	acmdSetClrCardDetect = 42 // SET_CLR_CARD_DETECT (SD)
)

// sendAppCmd issues CMD55 (APP_CMD) with the given RCA argument followed by
// the application command, mirroring the two-command sequence every SD
// application command requires.
func sendAppCmd(host HostController, rcaArg uint32, acmd uint32, arg uint32) error {
	if err := host.SendCommand(cmdAppCmd, rcaArg); err != nil {
		return err
	}
	return host.SendCommand(acmd, arg)
}

// goIdleState sends CMD0, entering idle state from any state but inactive.
func goIdleState(host HostController) error {
	if err := host.SendCommand(cmdGoIdleState, 0); err != nil {
		return wrap(ErrGoIdleState, err)
	}
	return nil
}

// switchArg packs an MMC SWITCH (CMD6) argument: access mode, Extended CSD
// index, value and command set, per JESD84-B51 6.6.1.
func switchArg(access uint32, index uint32, value uint32, cmdSet uint32) uint32 {
	var arg uint32
	bits.SetN(&arg, 24, 0b11, access)
	bits.SetN(&arg, 16, 0xff, index)
	bits.SetN(&arg, 8, 0xff, value)
	bits.SetN(&arg, 0, 0xff, cmdSet)
	return arg
}

// sdSwitchFuncArg packs an SD SWITCH_FUNC (CMD6) argument, per SD-PL-7.10
// 4.3.10: mode selects query (0) or switch (1), group1 selects the
// function within group 1 (bits [3:0]); groups 2-6 are left at 0xF ("no
// influence"), the only groups this core ever touches being group 1
// (High-Speed).
func sdSwitchFuncArg(mode uint32, group1 uint32) uint32 {
	var arg uint32
	bits.SetN(&arg, 31, 1, mode)
	bits.SetN(&arg, 20, 0xf, 0xf) // group 6: no change
	bits.SetN(&arg, 16, 0xf, 0xf) // group 5: no change
	bits.SetN(&arg, 12, 0xf, 0xf) // group 4: no change
	bits.SetN(&arg, 8, 0xf, 0xf)  // group 3: no change
	bits.SetN(&arg, 4, 0xf, 0xf)  // group 2: no change
	bits.SetN(&arg, 0, 0xf, group1)
	return arg
}
