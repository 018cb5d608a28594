package chunk

import (
	blobcore "chunkledger/internal/blob/core"
)

// Hash is the ledger content hash of chunk bytes: base64 of the BLAKE3-256
// digest. Object stores report the same value as Info.ContentHash.
func Hash(data []byte) string { return blobcore.ContentHash(data) }
