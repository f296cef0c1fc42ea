package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/spaolacci/murmur3"
)

// Fingerprint hashes a document's config subset into a 16-hex-digit
// string. The subset is canonicalized per RFC 8785 before hashing, so
// two runs launched with the same configuration fingerprint identically
// regardless of key order or number formatting. A document with no
// config keys returns the empty fingerprint.
func Fingerprint(doc map[string]interface{}) (string, error) {
	subset := make(map[string]interface{})
	for key, value := range doc {
		if strings.HasPrefix(key, "config.") {
			subset[key] = value
		}
	}
	if len(subset) == 0 {
		return "", nil
	}

	raw, err := json.Marshal(subset)
	if err != nil {
		return "", fmt.Errorf("failed to encode config subset: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize config subset: %w", err)
	}
	return fmt.Sprintf("%016x", murmur3.Sum64(canonical)), nil
}
