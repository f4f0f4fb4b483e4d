package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ottojung/volodyslav-sub000/internal/metrics"
)

// rawDocument probes only the version and startTime fields, so a backend can decide
// whether a full Document unmarshal or a migration is needed without
// assuming the v2 shape up front.
type rawDocument struct {
	Version   int       `json:"version"`
	StartTime time.Time `json:"startTime"`
}

// Decode parses raw bytes into a Document, migrating a v1 document (which
// carries no "tasks" field at all) into an empty v2 document and logging
// RuntimeStateMigrated. The current version is unmarshalled directly. Any
// other version — older-but-unsupported, or newer than this build knows
// about — is rejected; the caller logs StateReadFailed and treats the store
// as holding no existing state rather than risk misreading an incompatible
// shape.
func Decode(raw []byte, logger *slog.Logger) (Document, error) {
	var probe rawDocument
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Document{}, err
	}

	switch probe.Version {
	case 1:
		logger.Info("RuntimeStateMigrated", "from", 1, "to", CurrentVersion)
		metrics.StateMigrationsTotal.WithLabelValues("1", strconv.Itoa(CurrentVersion)).Inc()
		return NewEmpty(probe.StartTime), nil
	case CurrentVersion:
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return Document{}, err
		}
		return doc, nil
	default:
		return Document{}, fmt.Errorf("state: unrecognized document version %d", probe.Version)
	}
}

func Encode(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}
