package util

import (
	"math"
	"testing"
)

func TestAddInt64(t *testing.T) {
	tests := []struct {
		a, b   int64
		want   int64
		wantOK bool
	}{
		{1, 2, 3, true},
		{math.MaxInt64, 0, math.MaxInt64, true},
		{math.MaxInt64, 1, 0, false},
		{math.MinInt64, -1, 0, false},
		{-5, 3, -2, true},
	}
	for _, tt := range tests {
		got, ok := AddInt64(tt.a, tt.b)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("AddInt64(%d, %d) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMulInt64(t *testing.T) {
	tests := []struct {
		a, b   int64
		want   int64
		wantOK bool
	}{
		{10, 10, 100, true},
		{0, math.MaxInt64, 0, true},
		{math.MaxInt64, 1, math.MaxInt64, true},
		{math.MaxInt64/2 + 1, 2, 0, false},
		{1 << 32, 1 << 31, 0, false},
		{-1, 5, 0, false},
	}
	for _, tt := range tests {
		got, ok := MulInt64(tt.a, tt.b)
		if ok != tt.wantOK || (ok && got != tt.want) {
			t.Errorf("MulInt64(%d, %d) = %d, %v; want %d, %v", tt.a, tt.b, got, ok, tt.want, tt.wantOK)
		}
	}
}
