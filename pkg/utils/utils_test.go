package utils

import (
	"bytes"
	"testing"
)

func TestComputeSHA256(t *testing.T) {
	got := ComputeSHA256([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if len(got) != 64 {
		t.Fatalf("ComputeSHA256() returned %d hex chars, want 64", len(got))
	}
	if got != want {
		t.Errorf("ComputeSHA256() = %v, want %v", got, want)
	}
}

func TestComputeSHA256FromReader(t *testing.T) {
	want := ComputeSHA256([]byte("streamed content"))
	got, err := ComputeSHA256FromReader(bytes.NewReader([]byte("streamed content")))
	if err != nil {
		t.Fatalf("ComputeSHA256FromReader() error = %v", err)
	}
	if got != want {
		t.Errorf("ComputeSHA256FromReader() = %v, want %v", got, want)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		bytes int64
		want  string
	}{
		{name: "bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 1536, want: "1.5 KB"},
		{name: "megabytes", bytes: 1048576, want: "1.0 MB"},
		{name: "zero bytes", bytes: 0, want: "0 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBytes(tt.bytes); got != tt.want {
				t.Errorf("FormatBytes() = %v, want %v", got, tt.want)
			}
		})
	}
}
