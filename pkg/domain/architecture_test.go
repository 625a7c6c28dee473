package domain_test

import (
	"testing"

	"lithocore/testutil"
)

// The domain layer must stay importable by every other package, so it may not
// depend on any internal implementation package.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden,
		"domain layer must not depend on internal packages")
}
