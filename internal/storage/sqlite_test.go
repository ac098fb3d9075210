//go:build sqlite
// +build sqlite

package storage

import (
	"path/filepath"
	"testing"

	logx "hookbot/pkg/logx"
)

func TestSQLiteStoreContract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		t.Helper()
		s, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "tasks.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("openSQLite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
