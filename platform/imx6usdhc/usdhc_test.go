package imx6usdhc

import "testing"

func TestCommandXfrTypeFields(t *testing.T) {
	xfr := commandXfrType(17, rsp48, true)

	if got := (xfr >> cmdXfrTypCMDINX) & 0x3f; got != 17 {
		t.Errorf("CMDINX = %d, want 17", got)
	}
	if got := (xfr >> cmdXfrTypRSPTYP) & 0b11; got != rsp48 {
		t.Errorf("RSPTYP = %d, want %d", got, rsp48)
	}
	if xfr&(1<<cmdXfrTypDPSEL) == 0 {
		t.Errorf("DPSEL not set for a data-bearing command")
	}
	if xfr&(1<<cmdXfrTypCICEN) == 0 || xfr&(1<<cmdXfrTypCCCEN) == 0 {
		t.Errorf("CICEN/CCCEN should always be set")
	}
}

func TestCommandXfrTypeNoData(t *testing.T) {
	xfr := commandXfrType(0, rspNone, false)
	if xfr&(1<<cmdXfrTypDPSEL) != 0 {
		t.Errorf("DPSEL set for a command with no data phase")
	}
}

func TestResponseType(t *testing.T) {
	cases := map[uint32]uint32{
		opAllSendCID: rspR2_136,
		opSendCSD:    rspR2_136,
		17:           rsp48,
		0:            rsp48,
	}
	for opcode, want := range cases {
		if got := responseType(opcode); got != want {
			t.Errorf("responseType(%d) = %d, want %d", opcode, got, want)
		}
	}
}

func TestHasDataPhase(t *testing.T) {
	dataOps := []uint32{opReadSingleBlock, opReadMultipleBlock, opWriteSingleBlock, opWriteMultipleBlock, opSwitch}
	for _, op := range dataOps {
		if !hasDataPhase(op) {
			t.Errorf("hasDataPhase(%d) = false, want true", op)
		}
	}
	noDataOps := []uint32{0, 2, 7, 9, 55}
	for _, op := range noDataOps {
		if hasDataPhase(op) {
			t.Errorf("hasDataPhase(%d) = true, want false", op)
		}
	}
}

func TestSetBusWidthRejectsUnsupported(t *testing.T) {
	hw := New(1)
	hw.base = 0 // never dereferenced by SetBusWidth's invalid-width path
	if err := hw.SetBusWidth(3); err == nil {
		t.Fatal("expected an error for an unsupported bus width")
	}
}

func TestInitPortRejectsUnknownInstance(t *testing.T) {
	hw := New(3)
	if err := hw.InitPort(0); err == nil {
		t.Fatal("expected an error for an unknown uSDHC instance")
	}
}
