package main

import (
	"testing"

	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/model"
)

// The flag default must agree with the encoder, which treats an empty
// cache type as f32.
func TestCacheDTypeFlagDefault(t *testing.T) {
	for _, f := range commonModelFlags() {
		sf, ok := f.(*cli.StringFlag)
		if !ok || sf.Name != "cache-dtype" {
			continue
		}
		if sf.Value != string(model.CacheF32) {
			t.Fatalf("cache-dtype default = %q, want %q", sf.Value, model.CacheF32)
		}
		return
	}
	t.Fatal("cache-dtype flag not found")
}
