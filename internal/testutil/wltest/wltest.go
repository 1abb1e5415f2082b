// Package wltest provides an in-memory compositor peer and the embedded
// core protocol subset for tests.
package wltest

import (
	"bytes"
	_ "embed"
	"sync"
	"testing"

	"github.com/danmuck/wlproto/internal/protocol/schema"
)

//go:embed core.xml
var coreXML []byte

var (
	coreOnce  sync.Once
	coreIface []*schema.Interface
	coreErr   error
)

// CoreXML returns the embedded protocol document.
func CoreXML() []byte {
	return append([]byte(nil), coreXML...)
}

// Core returns a fresh set holding the embedded core interfaces.
func Core(t testing.TB) *schema.Set {
	t.Helper()
	coreOnce.Do(func() {
		coreIface, coreErr = schema.Parse(bytes.NewReader(coreXML), "core.xml")
	})
	if coreErr != nil {
		t.Fatalf("parse embedded core protocol: %v", coreErr)
	}
	set, err := schema.NewSet(coreIface...)
	if err != nil {
		t.Fatalf("build core set: %v", err)
	}
	return set
}
