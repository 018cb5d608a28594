package maintenance_test

import (
	"testing"

	"chunkledger/testutil"
)

func TestMaintenanceUsesOnlyStoreInterfaces(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(testutil.StorageImportForbidden, testutil.ObjectStoreImportForbidden), "maintenance depends on ledger.Store and blob.Store")
}
