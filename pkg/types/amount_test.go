package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAmount_Arithmetic(t *testing.T) {
	a := NewAmount(100)
	b := NewAmount(40)

	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.String() != "140" {
		t.Errorf("sum = %s, want 140", sum)
	}

	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if diff.Cmp(NewAmount(60)) != 0 {
		t.Errorf("diff = %s, want 60", diff)
	}

	if _, err := b.Sub(a); !errors.Is(err, ErrAmountUnderflow) {
		t.Errorf("b-a err = %v, want ErrAmountUnderflow", err)
	}
}

func TestAmount_Overflow(t *testing.T) {
	var max [32]byte
	for i := range max {
		max[i] = 0xff
	}
	m := AmountFromBytes(max)
	if _, err := m.Add(NewAmount(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Errorf("max+1 err = %v, want ErrAmountOverflow", err)
	}
}

func TestAmount_JSON(t *testing.T) {
	// Larger than uint64.
	const raw = "340282366920938463463374607431768211455"
	a, err := ParseAmount(raw)
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"`+raw+`"` {
		t.Errorf("json = %s", data)
	}

	var out Amount
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Cmp(a) != 0 {
		t.Errorf("roundtrip = %s, want %s", out, raw)
	}

	if err := json.Unmarshal([]byte("42"), &out); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if out.String() != "42" {
		t.Errorf("number form = %s, want 42", out)
	}
}

func TestAmount_Bytes32(t *testing.T) {
	a := NewAmount(0x0102)
	b := a.Bytes32()
	if b[30] != 0x01 || b[31] != 0x02 {
		t.Errorf("Bytes32 not big-endian: %x", b)
	}
	if AmountFromBytes(b).Cmp(a) != 0 {
		t.Error("AmountFromBytes roundtrip mismatch")
	}
}

func TestParseWork(t *testing.T) {
	w, err := ParseWork("000000000000abcd")
	if err != nil {
		t.Fatalf("ParseWork: %v", err)
	}
	if w != 0xabcd {
		t.Errorf("work = %x, want abcd", uint64(w))
	}
	if w.String() != "000000000000abcd" {
		t.Errorf("String() = %s", w.String())
	}
	if _, err := ParseWork("zz"); err == nil {
		t.Error("expected error for non-hex work")
	}
	if w, err := ParseWork(""); err != nil || !w.IsZero() {
		t.Errorf("empty work = %v, %v", w, err)
	}
}
