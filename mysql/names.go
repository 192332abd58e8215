package mysql

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// maxLockNameLen is the GET_LOCK name limit.
const maxLockNameLen = 64

const lockNamePrefix = "atomfeed:"

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}
	for _, part := range parts {
		if part == "" {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}

// lockKey maps an arbitrary lock name onto a GET_LOCK name. Names that do not
// fit are replaced by a digest.
func lockKey(name string) string {
	if len(name) <= maxLockNameLen {
		return name
	}

	sum := sha256.Sum256([]byte(name))

	return lockNamePrefix + hex.EncodeToString(sum[:])[:maxLockNameLen-len(lockNamePrefix)]
}
