package block

import (
	"testing"

	"github.com/tarancss/tokenmon/lib/config"
)

// TestInit loads the clients of the configured chains. HTTP clients connect lazily so no node is needed.
func TestInit(t *testing.T) {
	bc, err := Init([]config.ChainConfig{
		{Name: "eth", Node: "http://localhost:8545"},
		{Name: "polygon", Node: "http://localhost:8546", Secret: "user:secret"},
		{Name: "eth", Node: "http://localhost:8547"},
	})
	if err != nil {
		t.Fatalf("Init err:%v", err)
	}
	defer End(bc)

	if len(bc) != 2 || bc["eth"].Node() != "http://localhost:8545" || bc["polygon"].Node() != "http://localhost:8546" {
		t.Errorf("clients %v", bc)
	}

	if _, err = Init([]config.ChainConfig{{Name: "eth", Node: "http://localhost:8545"},
		{Name: "bad", Node: "foo://localhost"}}); err == nil {
		t.Error("expected error for an unknown url scheme")
	}
}
