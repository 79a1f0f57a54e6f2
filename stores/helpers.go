package stores

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/oarkflow/date"

	"github.com/oarkflow/permission"
)

func parseFlexibleTime(s string) (time.Time, error) {
	return date.Parse(s)
}

// scanTime folds the timestamp representations drivers hand back (sqlite
// returns TEXT, postgres time.Time) into one value.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

// encodeConfig renders the canonical JSON payload and its sha256 checksum.
func encodeConfig(cfg *permission.Config) ([]byte, string, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(payload)
	return payload, hex.EncodeToString(sum[:]), nil
}

func decodeConfig(payload []byte) (*permission.Config, error) {
	cfg := &permission.Config{}
	if err := json.Unmarshal(payload, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
