package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"0", 0, false},
		{"4096", 4096, false},
		{"262144", 262144, false},

		{"100B", 100, false},
		{"1KB", 1000, false},
		{"1.5KB", 1500, false},
		{"1MB", 1000000, false},
		{"1GB", 1000000000, false},

		{"1K", 1024, false},
		{"256KiB", 262144, false},
		{"1.5KiB", 1536, false},
		{"4M", 4194304, false},
		{"1MiB", 1048576, false},
		{"1GiB", 1073741824, false},
		{"1TiB", 1099511627776, false},

		{"256kib", 262144, false},
		{" 64 KiB ", 65536, false},

		{"", 0, true},
		{"invalid", 0, true},
		{"KiB", 0, true},
		{"1.2.3MB", 0, true},
		{"1XB", 0, true},
		{"-1MB", 0, true},
		{"-5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDataSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestFormatDataSize(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{262144, "256 KB"},
		{1048576, "1 MB"},
		{1572864, "1.5 MB"},
		{52428800, "50 MB"},
		{1073741824, "1 GB"},
		{1099511627776, "1 TB"},
		{-1, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDataSize(tt.input))
		})
	}
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "1 MB/s", FormatRate(2*1048576, 2*time.Second))
	assert.Equal(t, "-", FormatRate(0, time.Second))
	assert.Equal(t, "-", FormatRate(1024, 0))
}
