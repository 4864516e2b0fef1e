package dlink

import "testing"

func TestObfuscateInvolution(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		value  string
	}{
		{"simple", "secret", "123456"},
		{"secret shorter than value", "ab", "a longer pin value"},
		{"secret longer than value", "a much longer shared secret", "42"},
		{"unicode value", "key", "pin-äöü-123"},
		{"single char secret", "x", "987654"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encrypted := Obfuscate(tt.secret, tt.value)
			decrypted := Obfuscate(tt.secret, encrypted)
			if decrypted != tt.value {
				t.Errorf("double Obfuscate() = %q, want %q", decrypted, tt.value)
			}
		})
	}
}

func TestObfuscateChangesValue(t *testing.T) {
	if got := Obfuscate("secret", "123456"); got == "123456" {
		t.Error("Obfuscate() returned input unchanged with non-empty secret")
	}
}

func TestObfuscateFailsOpen(t *testing.T) {
	if got := Obfuscate("", "123456"); got != "123456" {
		t.Errorf("Obfuscate() with empty secret = %q, want input unchanged", got)
	}
	if got := Obfuscate("secret", ""); got != "" {
		t.Errorf("Obfuscate() with empty value = %q, want empty", got)
	}
}

func TestHMACMD5Hex(t *testing.T) {
	// RFC 2202 test case 2: key "Jefe", data "what do ya want for nothing?"
	got := HMACMD5Hex("Jefe", "what do ya want for nothing?")
	want := "750C783E6AB0B503EAA86E310A5DB738"
	if got != want {
		t.Errorf("HMACMD5Hex() = %q, want %q", got, want)
	}
}

func TestHMACMD5HexUppercase(t *testing.T) {
	got := HMACMD5Hex("key", "message")
	for _, r := range got {
		if r >= 'a' && r <= 'f' {
			t.Fatalf("HMACMD5Hex() = %q, contains lowercase hex", got)
		}
	}
	if len(got) != 32 {
		t.Errorf("HMACMD5Hex() length = %d, want 32", len(got))
	}
}

func TestSHA1Hex(t *testing.T) {
	got := SHA1Hex("abc")
	want := "a9993e364706816aba3e25717850c26c9cd0d89d"
	if got != want {
		t.Errorf("SHA1Hex() = %q, want %q", got, want)
	}
}

func TestIDFromMAC(t *testing.T) {
	tests := []struct {
		mac  string
		want string
	}{
		{"c4:e9:0a:12:34:56", "C4E90A123456"},
		{"C4:E9:0A:12:34:56", "C4E90A123456"},
		{"c4-e9-0a-12-34-56", "C4E90A123456"},
		{"C4E90A123456", "C4E90A123456"},
	}

	for _, tt := range tests {
		if got := IDFromMAC(tt.mac); got != tt.want {
			t.Errorf("IDFromMAC(%q) = %q, want %q", tt.mac, got, tt.want)
		}
	}
}

func TestFormatMAC(t *testing.T) {
	tests := []struct {
		mac  string
		want string
	}{
		{"c4e90a123456", "C4:E9:0A:12:34:56"},
		{"c4:e9:0a:12:34:56", "C4:E9:0A:12:34:56"},
		{"c4-e9-0a-12-34-56", "C4:E9:0A:12:34:56"},
		{"not-a-mac", "NOT-A-MAC"},
	}

	for _, tt := range tests {
		if got := FormatMAC(tt.mac); got != tt.want {
			t.Errorf("FormatMAC(%q) = %q, want %q", tt.mac, got, tt.want)
		}
	}
}
