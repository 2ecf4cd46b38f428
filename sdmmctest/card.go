package sdmmctest

import "github.com/openagbfw/sdmmc-core/sdmmc"

// Wire-level command opcodes, duplicated here (rather than imported)
// because the sdmmc package keeps them unexported: a simulated card
// responds to the same wire protocol the core speaks, not to the core's
// internal naming.
const (
	opGoIdleState     = 0
	opAllSendCID      = 2
	opSetRelativeAddr = 3 // MMC SET_RELATIVE_ADDR and SD SEND_RELATIVE_ADDR share opcode 3
	opSendIfCond      = 8
	opSendOpCondMMC   = 1
	opSendCSD         = 9
	opSelectCard      = 7
	opSwitch          = 6
	opSetBlockLen     = 16
	opReadSingle      = 17
	opReadMultiple    = 18
	opWriteSingle     = 24
	opWriteMultiple   = 25
	opAppCmd          = 55
	opSDSendOpCond    = 41
)

const r1CardIsLocked = 1 << 25

// Card is a scripted Responder simulating one real SD or MMC card. Zero
// value behaves like no card present (SEND_IF_COND, SD_SEND_OP_COND and
// SEND_OP_COND all time out, so card-type discrimination fails); tests
// set the fields for the scenario they want.
type Card struct {
	// IfCondEcho, if true, makes SEND_IF_COND succeed and echo its
	// argument (SD v2+ host); if false, SEND_IF_COND times out (SD v1
	// or MMC).
	IfCondEcho bool

	// SDOCRSeq scripts the OCR SD_SEND_OP_COND returns on each poll,
	// in order; the last entry repeats once exhausted. Empty means
	// SD_SEND_OP_COND times out at the host (the card is not an SD
	// card); to keep the busy bit set on every poll, script an OCR
	// with bit 31 clear.
	SDOCRSeq []uint32
	// MMCOCRSeq is the same, for the native CMD1 path.
	MMCOCRSeq []uint32

	// RCA is the relative address an SD card reports in
	// SEND_RELATIVE_ADDR's response, in bits [31:16].
	RCA uint16

	CID [4]uint32
	CSD [4]uint32

	Locked bool

	// SwitchStatus is copied into the host's programmed buffer on the
	// SD SWITCH_FUNC data-bearing command.
	SwitchStatus [64]byte

	sdPolls  int
	mmcPolls int

	// appCmdPending is set after CMD55 and cleared by the next command,
	// the only way to tell ACMD6 (SET_BUS_WIDTH) apart from CMD6, which
	// shares the same wire opcode.
	appCmdPending bool

	// LastOpcode/LastArg mirror Host's, kept here too so a test can
	// assert on what the card last saw without reaching into Host.
	LastOpcode uint32
	LastArg    uint32
}

func (c *Card) Command(h *Host, opcode uint32, arg uint32) ([4]uint32, error) {
	c.LastOpcode = opcode
	c.LastArg = arg

	isAppCmd := c.appCmdPending
	c.appCmdPending = false

	switch opcode {
	case opGoIdleState:
		return [4]uint32{}, nil

	case opSendIfCond:
		if !c.IfCondEcho {
			return [4]uint32{}, sdmmc.ErrCmdTimeout
		}
		return [4]uint32{arg, 0, 0, 0}, nil

	case opAppCmd:
		c.appCmdPending = true
		return [4]uint32{}, nil

	case opSDSendOpCond:
		if len(c.SDOCRSeq) == 0 {
			return [4]uint32{}, sdmmc.ErrCmdTimeout
		}
		idx := c.sdPolls
		if idx >= len(c.SDOCRSeq) {
			idx = len(c.SDOCRSeq) - 1
		}
		c.sdPolls++
		return [4]uint32{c.SDOCRSeq[idx], 0, 0, 0}, nil

	case opSendOpCondMMC:
		if len(c.MMCOCRSeq) == 0 {
			return [4]uint32{}, sdmmc.ErrCmdTimeout
		}
		idx := c.mmcPolls
		if idx >= len(c.MMCOCRSeq) {
			idx = len(c.MMCOCRSeq) - 1
		}
		c.mmcPolls++
		return [4]uint32{c.MMCOCRSeq[idx], 0, 0, 0}, nil

	case opAllSendCID:
		return c.CID, nil

	case opSetRelativeAddr:
		if arg != 0 {
			// MMC: host-assigned RCA, nothing to echo back.
			return [4]uint32{}, nil
		}
		return [4]uint32{uint32(c.RCA) << 16, 0, 0, 0}, nil

	case opSendCSD:
		return c.CSD, nil

	case opSelectCard:
		if c.Locked {
			return [4]uint32{r1CardIsLocked, 0, 0, 0}, nil
		}
		return [4]uint32{}, nil

	case opSwitch:
		if isAppCmd {
			// ACMD6 SET_BUS_WIDTH: plain ack, no data phase.
			return [4]uint32{}, nil
		}
		// CMD6: MMC SWITCH (no data phase) or SD SWITCH_FUNC (64-byte
		// status block delivered into the host's programmed buffer).
		if h.Buffer != nil {
			copy(h.Buffer, c.SwitchStatus[:])
		}
		return [4]uint32{}, nil

	case opReadSingle, opReadMultiple, opWriteSingle, opWriteMultiple:
		return [4]uint32{}, nil

	default:
		return [4]uint32{}, nil
	}
}
