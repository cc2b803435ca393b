// Package validate enforces the minimum-viable-record contract on normalized
// mentions before anything is persisted or forwarded.
package validate

import (
	"strings"

	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/model"
)

// Result pairs a mention with every contract violation found on it. A record
// is never short-circuited on the first failure; all violations accumulate.
type Result struct {
	Mention model.NormalizedMention
	Errors  []string
}

// Valid reports whether the mention passed every check.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks the required-field policy on a single mention.
func Validate(m model.NormalizedMention) Result {
	var errs []string

	if strings.TrimSpace(m.ID) == "" {
		errs = append(errs, "id is blank")
	}
	if strings.TrimSpace(m.Brand) == "" {
		errs = append(errs, "brand is blank")
	}
	if strings.TrimSpace(m.Text) == "" {
		errs = append(errs, "text is blank")
	}
	if m.Timestamp <= 0 {
		errs = append(errs, "timestamp must be positive")
	}
	if m.Source == "" {
		errs = append(errs, "source is missing")
	}
	if m.Metadata == nil {
		errs = append(errs, "metadata is missing")
	} else {
		if strings.TrimSpace(m.Metadata.Author) == "" {
			errs = append(errs, "metadata.author is blank")
		}
		if strings.TrimSpace(m.Metadata.URL) == "" {
			errs = append(errs, "metadata.url is blank")
		}
	}

	return Result{Mention: m, Errors: errs}
}

// FilterValid splits mentions into forwardable records and rejected ones.
// Rejected records are logged with enough detail to reconstruct why; they
// are never retried or repaired, the log is the audit trail.
func FilterValid(mentions []model.NormalizedMention) (valid []model.NormalizedMention, invalid []Result) {
	for _, m := range mentions {
		res := Validate(m)
		if res.Valid() {
			valid = append(valid, m)
			continue
		}
		invalid = append(invalid, res)
		zap.L().Warn("dropping invalid mention",
			zap.String("brand", m.Brand),
			zap.String("id", m.ID),
			zap.Strings("errors", res.Errors),
		)
	}
	return valid, invalid
}
