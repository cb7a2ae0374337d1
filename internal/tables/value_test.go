package tables

import (
	"math"
	"testing"
)

func TestValueCanon(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"missing", Missing(), ""},
		{"integer-valued float", Number(90), "90"},
		{"fractional float", Number(0.03), "0.03"},
		{"negative zero", Number(math.Copysign(0, -1)), "0"},
		{"string", String("GRAPPA"), "GRAPPA"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"nan normalizes to missing", Number(math.NaN()), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Canon(); got != tt.want {
				t.Errorf("Canon() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValueEqual(t *testing.T) {
	if !Missing().Equal(Number(math.NaN())) {
		t.Error("Expected missing to equal NaN-normalized missing")
	}
	if !Number(2).Equal(Number(2.0)) {
		t.Error("Expected 2 to equal 2.0")
	}
	if Number(0.03).Equal(Number(0.030001)) {
		t.Error("Expected unrounded near values to differ")
	}
}

func TestValueRound(t *testing.T) {
	v := Number(0.0300004)
	r := v.Round(5)
	if got := r.Canon(); got != "0.03" {
		t.Errorf("Round(5).Canon() = %q, want %q", got, "0.03")
	}
	// Rounding is idempotent.
	if !r.Round(5).Equal(r) {
		t.Error("Expected Round to be idempotent")
	}
	// Non-numbers pass through.
	s := String("x")
	if !s.Round(3).Equal(s) {
		t.Error("Expected Round to pass strings through")
	}
}

func TestFromJSON(t *testing.T) {
	if got := FromJSON(nil); !got.IsMissing() {
		t.Errorf("FromJSON(nil) = %v, want missing", got)
	}
	if got := FromJSON(float64(3)); got.Canon() != "3" {
		t.Errorf("FromJSON(3) = %q, want %q", got.Canon(), "3")
	}
	if got := FromJSON(true); got.Canon() != "true" {
		t.Errorf("FromJSON(true) = %q, want %q", got.Canon(), "true")
	}
	// Lists canonicalize to compact JSON.
	list := []interface{}{float64(0), float64(1.5)}
	if got := FromJSON(list); got.Canon() != "[0,1.5]" {
		t.Errorf("FromJSON(list) = %q, want %q", got.Canon(), "[0,1.5]")
	}
}

func TestParseCell(t *testing.T) {
	tests := []struct {
		cell string
		want Value
	}{
		{"", Missing()},
		{"90", Number(90)},
		{"0.03", Number(0.03)},
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"GRAPPA", String("GRAPPA")},
		{"[0,1.5]", String("[0,1.5]")},
	}
	for _, tt := range tests {
		if got := ParseCell(tt.cell); !got.Equal(tt.want) || got.Kind() != tt.want.Kind() {
			t.Errorf("ParseCell(%q) = kind %d canon %q, want kind %d canon %q",
				tt.cell, got.Kind(), got.Canon(), tt.want.Kind(), tt.want.Canon())
		}
	}
}

func TestParseCellRoundTrip(t *testing.T) {
	values := []Value{Missing(), Number(0.007), Number(-3), Bool(true), String("epi")}
	for _, v := range values {
		if got := ParseCell(v.Canon()); !got.Equal(v) {
			t.Errorf("ParseCell(Canon()) = %q, want %q", got.Canon(), v.Canon())
		}
	}
}
