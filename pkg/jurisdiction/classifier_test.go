package jurisdiction

import "testing"

func TestClassifyTotality(t *testing.T) {
	inputs := []string{"DE", "de", "us", "CN", "zz", "", "a", "123", "é1"}
	valid := map[Status]bool{EUEEA: true, Adequate: true, SCCRequired: true, Blocked: true, Unknown: true}
	for _, in := range inputs {
		got := Classify(in)
		if !valid[got] {
			t.Fatalf("Classify(%q) = %q, not one of the five enumerated statuses", in, got)
		}
	}
}

func TestClassifyKnownCodes(t *testing.T) {
	cases := []struct {
		code string
		want Status
	}{
		{"DE", EUEEA},
		{"de", EUEEA},
		{"NO", EUEEA},
		{"JP", Adequate},
		{"GB", Adequate},
		{"US", SCCRequired},
		{"BR", SCCRequired},
		{"CN", Blocked},
		{"RU", Blocked},
		{"ZZ", Unknown},
		{"", Unknown},
	}
	for _, c := range cases {
		if got := Classify(c.code); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.code, got, c.want)
		}
	}
}

func TestClassifyNonASCII(t *testing.T) {
	if got := Classify("é1"); got != Unknown {
		t.Errorf("Classify non-ASCII = %q, want unknown", got)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	if got := DisplayName("ZZ"); got != "ZZ" {
		t.Errorf("DisplayName(ZZ) = %q, want ZZ", got)
	}
	if got := DisplayName("de"); got != "Germany" {
		t.Errorf("DisplayName(de) = %q, want Germany", got)
	}
}
