package models

import (
	"encoding/json"
	"testing"
)

func TestParseCredits(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Credits
		wantErr bool
	}{
		{"whole", "100", WholeCredits(100), false},
		{"fraction", "0.15", Credits(1500), false},
		{"smallest unit", "0.0001", Credits(1), false},
		{"rounds fifth decimal", "0.00005", Credits(1), false},
		{"negative", "-2.5", Credits(-25000), false},
		{"garbage", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCredits(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCredits(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseCredits(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestCredits_String(t *testing.T) {
	if got := Credits(72000).String(); got != "7.2000" {
		t.Errorf("String() = %s, want 7.2000", got)
	}
	if got := Credits(-1).String(); got != "-0.0001" {
		t.Errorf("String() = %s, want -0.0001", got)
	}
}

func TestCredits_MulRate(t *testing.T) {
	usable := WholeCredits(80)
	granted := usable.MulRate(0.10).MulRate(0.90)
	if granted != CreditsFromFloat(7.2) {
		t.Errorf("80 * 0.10 * 0.90 = %s, want 7.2000", granted)
	}
}

func TestCredits_JSON(t *testing.T) {
	type payload struct {
		Amount Credits `json:"amount"`
	}

	b, err := json.Marshal(payload{Amount: Credits(1500)})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(b) != `{"amount":0.15}` {
		t.Errorf("Marshal = %s, want {\"amount\":0.15}", b)
	}

	for _, raw := range []string{`{"amount":12.5}`, `{"amount":"12.5"}`} {
		var p payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			t.Fatalf("Unmarshal(%s) failed: %v", raw, err)
		}
		if p.Amount != Credits(125000) {
			t.Errorf("Unmarshal(%s) = %d, want 125000", raw, p.Amount)
		}
	}
}

func TestCredits_Scan(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  Credits
	}{
		{"nil", nil, 0},
		{"bytes", []byte("3.1416"), Credits(31416)},
		{"string", "0.5000", Credits(5000)},
		{"int64", int64(3), WholeCredits(3)},
		{"float64", 0.25, Credits(2500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Credits
			if err := c.Scan(tt.value); err != nil {
				t.Fatalf("Scan(%v) error: %v", tt.value, err)
			}
			if c != tt.want {
				t.Errorf("Scan(%v) = %d, want %d", tt.value, c, tt.want)
			}
		})
	}

	var c Credits
	if err := c.Scan(true); err == nil {
		t.Error("Scan(bool) should fail")
	}
}

func TestCredits_Value(t *testing.T) {
	v, err := Credits(1500).Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if v != "0.1500" {
		t.Errorf("Value() = %v, want 0.1500", v)
	}
}
