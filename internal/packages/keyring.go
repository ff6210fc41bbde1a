package packages

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/openpgp" //nolint:staticcheck // armored keyring parsing only
)

// Keyring holds the key ids of trusted package signing keys.
type Keyring struct {
	ids []string
}

// LoadKeyring reads armored OpenPGP public key files. Unreadable or malformed
// files are reported through the returned error list while the readable keys
// are still loaded.
func LoadKeyring(paths []string) (*Keyring, []error) {
	kr := &Keyring{}
	var errs []error
	for _, path := range paths {
		ids, err := readKeyIDs(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		kr.ids = append(kr.ids, ids...)
	}
	return kr, errs
}

func readKeyIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gpg key %s: %w", path, err)
	}
	defer f.Close()
	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("parse gpg key %s: %w", path, err)
	}
	var ids []string
	for _, entity := range entities {
		if entity.PrimaryKey != nil {
			ids = append(ids, fmt.Sprintf("%016x", entity.PrimaryKey.KeyId))
		}
		for _, sub := range entity.Subkeys {
			if sub.PublicKey != nil {
				ids = append(ids, fmt.Sprintf("%016x", sub.PublicKey.KeyId))
			}
		}
	}
	return ids, nil
}

// NewKeyring builds a keyring from already known hex key ids.
func NewKeyring(ids ...string) *Keyring {
	kr := &Keyring{}
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			kr.ids = append(kr.ids, id)
		}
	}
	return kr
}

// Len returns the number of loaded key ids.
func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.ids)
}

// Trusts reports whether keyID matches a loaded key. Short (8 hex digit) and
// long (16 hex digit) ids are compared on their common suffix.
func (k *Keyring) Trusts(keyID string) bool {
	keyID = strings.ToLower(strings.TrimSpace(keyID))
	if k == nil || len(keyID) < 8 {
		return false
	}
	for _, id := range k.ids {
		n := min(len(id), len(keyID))
		if n >= 8 && id[len(id)-n:] == keyID[len(keyID)-n:] {
			return true
		}
	}
	return false
}
