package scheduler

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "clean name untouched", in: "10019-x.zip", want: "10019-x.zip"},
		{name: "path separators replaced", in: "a/b\\c.zip", want: "a_b_c.zip"},
		{name: "windows-reserved chars replaced", in: `a<b>c:d"e|f?g*h.zip`, want: "a_b_c_d_e_f_g_h.zip"},
		{name: "control chars replaced", in: "a\x00b\x1fc", want: "a_b_c"},
		{name: "trailing dots and spaces trimmed", in: " name.zip. ", want: "name.zip"},
		{name: "cjk preserved", in: "三体全集.zip", want: "三体全集.zip"},
		{name: "empty stays empty", in: "", want: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := sanitizeFilename(tc.in); got != tc.want {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeFilenameTruncatesOverlongNames(t *testing.T) {
	long := strings.Repeat("书", 150) // 450 bytes of UTF-8
	got := sanitizeFilename(long)
	if runes := []rune(got); len(runes) != 60 {
		t.Errorf("truncated to %d runes, want 60", len(runes))
	}

	ascii := strings.Repeat("a", 150)
	if got := sanitizeFilename(ascii); got != ascii {
		t.Errorf("150-byte ascii name should be kept, got %d bytes", len(got))
	}
}
