package main

import (
	"os"

	"github.com/pkg/errors"

	"chunkledger/cmd/chunkledger/cmd"
	"chunkledger/pkg/ledger"
)

func main() {
	err := cmd.RootCmd(cmd.New()).Execute()
	if err == nil {
		return
	}
	var overlap *ledger.ProcessingOverlapError
	if errors.As(err, &overlap) {
		os.Exit(2)
	}
	os.Exit(1)
}
