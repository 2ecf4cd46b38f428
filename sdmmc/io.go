package sdmmc

// Sector I/O dispatcher: translates a logical sector range into the
// correct command opcode and argument form for the bound card type.
//
// Known gap: a benign out-of-range error on the last block of a
// multi-block transfer is spec-legal and should be swallowed; this
// dispatcher currently surfaces any host transfer error as ErrSectRW
// without attempting to distinguish that case, matching a TODO the
// original C driver carries on both its read and write paths.

// ReadSectors reads count sectors starting at start into buf.
func (c *Card) ReadSectors(start uint32, count int, buf []byte) error {
	return c.transfer(start, count, buf, false)
}

// WriteSectors writes count sectors starting at start from buf. On the
// removable card slot, the write-protect slider must be unlocked or the
// call returns ErrWriteProt and submits no command.
func (c *Card) WriteSectors(start uint32, count int, buf []byte) error {
	return c.transfer(start, count, buf, true)
}

func (c *Card) transfer(start uint32, count int, buf []byte, write bool) error {
	c.Lock()
	defer c.Unlock()

	if count == 0 {
		return ErrInvalParam
	}
	if c.cardType == CardNone {
		return ErrNoCard
	}
	if write && c.slot == SlotCard && !c.host.CardSliderUnlocked() {
		return ErrWriteProt
	}

	arg := start
	if !c.cardType.highCapacity() {
		arg = start * 512
	}

	opcode := uint32(cmdReadSingleBlock)
	switch {
	case write && count == 1:
		opcode = cmdWriteSingleBlock
	case write && count > 1:
		opcode = cmdWriteMultipleBlock
	case !write && count == 1:
		opcode = cmdReadSingleBlock
	case !write && count > 1:
		opcode = cmdReadMultipleBlock
	}

	c.host.SetBuffer(buf, count)
	if err := c.host.SendCommand(opcode, arg); err != nil {
		return wrap(ErrSectRW, err)
	}
	return nil
}
