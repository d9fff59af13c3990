package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// DeletionManifest records exactly which primary keys a batch deleted,
// and the hash of their sorted set, so the set can later be compared
// against the keys present in the serialized object (PK verification)
// and re-checked for absence (the sample-absence check).
type DeletionManifest struct {
	Database       string          `json:"database"`
	Table          string          `json:"table"`
	Fingerprint    string          `json:"batch_fingerprint"`
	PrimaryKeys    [][]interface{} `json:"primary_keys"`
	PrimaryKeyHash string          `json:"primary_key_hash"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HashPrimaryKeys returns the SHA-256 hex digest of pks after sorting
// them into a canonical order, so the same key set always hashes the
// same regardless of fetch order.
func HashPrimaryKeys(pks [][]interface{}) (string, error) {
	sorted := sortedCopy(pks)
	encoded, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("verify: encode primary keys: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// BuildDeletionManifest constructs and hashes a DeletionManifest for
// one batch's primary-key set.
func BuildDeletionManifest(database, table, fingerprint string, pks [][]interface{}, createdAt time.Time) (*DeletionManifest, error) {
	hash, err := HashPrimaryKeys(pks)
	if err != nil {
		return nil, err
	}
	return &DeletionManifest{
		Database:       database,
		Table:          table,
		Fingerprint:    fingerprint,
		PrimaryKeys:    pks,
		PrimaryKeyHash: hash,
		CreatedAt:      createdAt,
	}, nil
}

// CheckPrimaryKeySetEquality asserts that the primary keys passed to
// the delete are exactly the primary keys present in the serialized
// object, by comparing hashes of their sorted sets.
func CheckPrimaryKeySetEquality(deletedPKs, serializedPKs [][]interface{}) error {
	deletedHash, err := HashPrimaryKeys(deletedPKs)
	if err != nil {
		return err
	}
	serializedHash, err := HashPrimaryKeys(serializedPKs)
	if err != nil {
		return err
	}
	if deletedHash != serializedHash {
		return fmt.Errorf("verify: primary key set mismatch between delete (%s) and serialized object (%s)", deletedHash, serializedHash)
	}
	return nil
}

func sortedCopy(pks [][]interface{}) [][]string {
	out := make([][]string, len(pks))
	for i, pk := range pks {
		parts := make([]string, len(pk))
		for j, v := range pk {
			parts[j] = fmt.Sprintf("%v", v)
		}
		out[i] = parts
	}
	sort.Slice(out, func(i, j int) bool {
		return joinParts(out[i]) < joinParts(out[j])
	})
	return out
}

func joinParts(parts []string) string {
	out := ""
	for _, p := range parts {
		out += p + "\x00"
	}
	return out
}
