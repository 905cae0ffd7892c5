package vm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKindedIntNarrows(t *testing.T) {
	tests := []struct {
		kind Kind
		in   int32
		want int32
	}{
		{KindBoolean, 3, 1},
		{KindByte, 0x1ff, -1},
		{KindByte, 0x7f, 127},
		{KindChar, -1, 0xffff},
		{KindShort, 0x18000, -32768},
		{KindInt, -5, -5},
	}
	for _, tt := range tests {
		if got := KindedInt(tt.kind, tt.in).Int(); got != tt.want {
			t.Errorf("KindedInt(%s, %d) = %d, want %d", tt.kind, tt.in, got, tt.want)
		}
	}
}

func TestParseMethodDescriptor(t *testing.T) {
	tests := []struct {
		desc   string
		params []Kind
		ret    Kind
	}{
		{"()V", nil, KindVoid},
		{"(II)I", []Kind{KindInt, KindInt}, KindInt},
		{"(JLjava/lang/String;D)Z", []Kind{KindLong, KindReference, KindDouble}, KindBoolean},
		{"([I[[Ljava/lang/Object;)[B", []Kind{KindReference, KindReference}, KindReference},
		{"(BCSF)J", []Kind{KindByte, KindChar, KindShort, KindFloat}, KindLong},
	}
	for _, tt := range tests {
		params, ret, err := ParseMethodDescriptor(tt.desc)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.desc, err)
			continue
		}
		if diff := cmp.Diff(tt.params, params); diff != "" {
			t.Errorf("%s: params mismatch (-want +got):\n%s", tt.desc, diff)
		}
		if ret != tt.ret {
			t.Errorf("%s: return = %s, want %s", tt.desc, ret, tt.ret)
		}
	}

	for _, bad := range []string{"", "V", "(I", "(V)V", "(Ljava/lang/String)V", "(Q)V", "()VV", "([V)V", "()[V", "([[V)I", "(L;)V"} {
		if _, _, err := ParseMethodDescriptor(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestParseFieldDescriptor(t *testing.T) {
	tests := []struct {
		desc string
		want Kind
	}{
		{"I", KindInt},
		{"J", KindLong},
		{"Z", KindBoolean},
		{"[I", KindReference},
		{"[[D", KindReference},
		{"Ljava/lang/Object;", KindReference},
		{"[Ljava/lang/String;", KindReference},
	}
	for _, tt := range tests {
		got, err := ParseFieldDescriptor(tt.desc)
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.desc, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: kind = %s, want %s", tt.desc, got, tt.want)
		}
	}

	for _, bad := range []string{"", "V", "[V", "[[V", "II", "Ljava/lang/Object", "L;", "[", "Q"} {
		if _, err := ParseFieldDescriptor(bad); err == nil {
			t.Errorf("%q: expected an error", bad)
		}
	}
}

func TestSlotCount(t *testing.T) {
	if got := SlotCount([]Kind{KindInt, KindLong, KindReference, KindDouble}); got != 6 {
		t.Errorf("SlotCount = %d, want 6", got)
	}
}
