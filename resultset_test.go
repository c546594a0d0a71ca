package mysqlclient

import (
	"io"
	"testing"

	"github.com/dbbouncer/mysqlclient/internal/wire"
)

func textColumn(t wire.ColumnType, unsigned bool) ColumnInfo {
	var flags uint16
	if unsigned {
		flags |= wire.ColumnFlagUnsigned
	}
	return ColumnInfo{Type: t, Flags: flags}
}

func TestConvertTextValue(t *testing.T) {
	cases := []struct {
		col  ColumnInfo
		s    string
		want any
	}{
		{textColumn(wire.TypeLong, false), "-42", int64(-42)},
		{textColumn(wire.TypeLong, true), "42", uint64(42)},
		{textColumn(wire.TypeFloat, false), "1.5", float32(1.5)},
		{textColumn(wire.TypeDouble, false), "2.25", float64(2.25)},
		{textColumn(wire.TypeVarchar, false), "hello", "hello"},
	}
	for _, c := range cases {
		got := convertTextValue(c.col, c.s)
		if got != c.want {
			t.Errorf("convertTextValue(%v, %q) = %#v, want %#v", c.col.Type, c.s, got, c.want)
		}
	}
}

func TestDecodeTextRowWithNull(t *testing.T) {
	w := wire.NewWriter(16)
	w.Byte(0xfb) // NULL
	w.LengthEncodedString("7")
	payload := w.Bytes()

	columns := []ColumnInfo{
		textColumn(wire.TypeVarchar, false),
		textColumn(wire.TypeLong, false),
	}
	row, err := decodeTextRow(payload, columns)
	if err != nil {
		t.Fatalf("decodeTextRow: %v", err)
	}
	if row[0] != nil {
		t.Errorf("expected NULL for column 0, got %#v", row[0])
	}
	if row[1] != int64(7) {
		t.Errorf("expected int64(7) for column 1, got %#v", row[1])
	}
}

func TestDecodeBinaryRowNullBitmap(t *testing.T) {
	// Two columns: first NULL, second a TINY value of 5. The binary
	// protocol's null-bitmap offset is 2, so column 0's bit lives at
	// bit index 2 of byte 0.
	w := wire.NewWriter(8)
	w.Byte(0x00)
	w.Byte(1 << 2) // bit (0+2)%8 of byte (0+2)/8=0 set -> column 0 is NULL
	w.Byte(5)      // column 1's TINY value
	payload := w.Bytes()

	columns := []ColumnInfo{
		textColumn(wire.TypeLong, false),
		textColumn(wire.TypeTiny, false),
	}
	row, err := decodeBinaryRow(payload, columns)
	if err != nil {
		t.Fatalf("decodeBinaryRow: %v", err)
	}
	if row[0] != nil {
		t.Errorf("expected NULL for column 0, got %#v", row[0])
	}
	if row[1] != int64(5) {
		t.Errorf("expected int64(5) for column 1, got %#v", row[1])
	}
}

func TestResultSetNextAfterDoneReturnsEOF(t *testing.T) {
	rs := &ResultSet{done: true}
	_, err := rs.Next()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestCursorMoreRowsRequiresStatement(t *testing.T) {
	rs := &ResultSet{}
	if rs.cursorMoreRows(wire.ServerStatusCursorExists) {
		t.Error("cursorMoreRows should be false with no associated statement")
	}
}
