package datasets

import (
	"errors"
	"testing"
)

func TestParsePartition(t *testing.T) {
	for _, name := range []string{"train", "valid", "test"} {
		p, err := ParsePartition(name)
		if err != nil {
			t.Fatalf("ParsePartition(%q) error: %v", name, err)
		}
		if string(p) != name {
			t.Fatalf("ParsePartition(%q) = %q", name, p)
		}
	}
	for _, name := range []string{"", "Train", "validation", "eval"} {
		if _, err := ParsePartition(name); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("ParsePartition(%q) = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestPartition_StoreFile(t *testing.T) {
	cases := map[Partition]string{
		Train: "train_data.db",
		Valid: "valid_data.db",
		Test:  "test_data.db",
	}
	for p, want := range cases {
		if got := p.StoreFile(); got != want {
			t.Fatalf("%s.StoreFile() = %q, want %q", p, got, want)
		}
	}
}
