package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes the integrity fingerprint over the serializable state
// subset of a session. The same function runs at dump time and at load time;
// a mismatch on load signals drift between the chain dump and the recorded
// stores, and is reported but never blocks loading.
func Fingerprint(state SessionState) (string, error) {
	// json.Marshal is deterministic for struct-typed values (field order is
	// declaration order), so the digest is stable across processes.
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("fingerprint state: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
