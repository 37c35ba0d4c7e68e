package board_test

import (
	"testing"

	"boardcore/testutil"
)

// pkg/board is the public vocabulary of the module; it must stay free of
// internal packages so external callers can depend on it safely.
func TestBoardPackageImportsNoInternals(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden,
		"pkg/board must not import internal packages")
}
