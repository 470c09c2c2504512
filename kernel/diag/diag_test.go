package diag

import "testing"

func TestDecodeFaultSite(t *testing.T) {
	defer SetFaultReader(nil)

	t.Run("no fault recorded", func(t *testing.T) {
		ClearFaultSite()
		if _, ok := DecodeFaultSite(); ok {
			t.Fatal("expected no decode without a recorded fault site")
		}
	})

	t.Run("reader absent", func(t *testing.T) {
		RecordFaultSite(0x1000)
		if _, ok := DecodeFaultSite(); ok {
			t.Fatal("expected no decode without an installed fault reader")
		}
	})

	t.Run("decodes a simple instruction", func(t *testing.T) {
		// mov eax, 1 (b8 01 00 00 00)
		SetFaultReader(func(addr uintptr, n int) ([]byte, bool) {
			if addr != 0x2000 {
				t.Fatalf("unexpected addr %x", addr)
			}
			return []byte{0xb8, 0x01, 0x00, 0x00, 0x00}, true
		})
		RecordFaultSite(0x2000)

		out, ok := DecodeFaultSite()
		if !ok {
			t.Fatal("expected a successful decode")
		}
		if out == "" {
			t.Fatal("expected a non-empty disassembly")
		}
	})

	t.Run("consumes the recorded site once", func(t *testing.T) {
		SetFaultReader(func(addr uintptr, n int) ([]byte, bool) {
			return []byte{0xb8, 0x01, 0x00, 0x00, 0x00}, true
		})
		RecordFaultSite(0x3000)

		if _, ok := DecodeFaultSite(); !ok {
			t.Fatal("expected first decode to succeed")
		}
		if _, ok := DecodeFaultSite(); ok {
			t.Fatal("expected second decode to find nothing recorded")
		}
	})

	t.Run("reader failure yields no decode", func(t *testing.T) {
		SetFaultReader(func(addr uintptr, n int) ([]byte, bool) {
			return nil, false
		})
		RecordFaultSite(0x4000)
		if _, ok := DecodeFaultSite(); ok {
			t.Fatal("expected no decode when the reader fails")
		}
	})
}
