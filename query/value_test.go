// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package query

import (
	"bytes"
	"testing"
)

func TestValueRoundTripInt(t *testing.T) {
	v := Int(42)
	a, err := v.driverArg()
	if err != nil {
		t.Fatal(err)
	}
	if i, ok := valueFromColumn(a).Int64(); !ok || i != 42 {
		t.Errorf("round trip mismatch for int64")
	}
}

func TestValueRoundTripFloat(t *testing.T) {
	v := Float(3.5)
	a, err := v.driverArg()
	if err != nil {
		t.Fatal(err)
	}
	got := valueFromColumn(a)
	if f, ok := got.Float64(); !ok || f != 3.5 {
		t.Errorf("round trip mismatch for float64: %v", got)
	}
}

func TestValueRoundTripText(t *testing.T) {
	v := Text("hello")
	a, _ := v.driverArg()
	got := valueFromColumn(a)
	if s, ok := got.Text(); !ok || s != "hello" {
		t.Errorf("round trip mismatch for text: %v", got)
	}
}

func TestValueRoundTripBlob(t *testing.T) {
	v := Blob([]byte{1, 2, 3})
	a, _ := v.driverArg()
	got := valueFromColumn(a)
	b, ok := got.Blob()
	if !ok || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Errorf("round trip mismatch for blob: %v", got)
	}
}

func TestValueRoundTripNull(t *testing.T) {
	v := Null()
	a, err := v.driverArg()
	if err != nil || a != nil {
		t.Fatalf("driverArg() = %v, %v; want nil, nil", a, err)
	}
	if got := valueFromColumn(a); !got.IsNull() {
		t.Errorf("round trip mismatch for null: %v", got)
	}
}

func TestValueUnsupportedKindFails(t *testing.T) {
	var v Value // zero value is kindNull (0), so force an invalid kind
	v.kind = kind(99)
	if _, err := v.driverArg(); err != ErrUnsupportedParameterType {
		t.Errorf("driverArg() err = %v, want ErrUnsupportedParameterType", err)
	}
}
