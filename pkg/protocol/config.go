package protocol

import (
	"strconv"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Encoding methods for wishes.
const (
	DefaultWishMethod        = "DBSLeipzig/DUMMY"
	SelectivePlaintextMethod = "DBSLeipzig/Plain/Selective"
	// AttributeSeparator terminates every attribute name of a selective
	// plaintext secret.
	AttributeSeparator = "#"
)

// Config holds the link improvement defaults, overridable per project.
type Config struct {
	WishMethod             string
	MinAttributeSimilarity float64
	ReportOnlyOnce         bool
	// ParentEndpoint is the base url of the parent linkage unit. Empty means
	// the parent runs in this process.
	ParentEndpoint string
}

// DefaultConfig returns the default link improvement configuration
func DefaultConfig() Config {
	return Config{
		WishMethod:             DefaultWishMethod,
		MinAttributeSimilarity: 0.4,
		ReportOnlyOnce:         true,
	}
}

// ForProject applies the project's config overrides.
func (c Config) ForProject(project *models.LinkageProject) (Config, error) {
	if v, ok := project.ConfigValue(models.ConfigWishMethod); ok {
		c.WishMethod = v
	}
	if v, ok := project.ConfigValue(models.ConfigMinAttributeSimilarity); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return c, models.NewLinkageError(models.ErrValidation, "invalid %s %q", models.ConfigMinAttributeSimilarity, v)
		}
		c.MinAttributeSimilarity = f
	}
	if v, ok := project.ConfigValue(models.ConfigReportOnlyOnce); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c, models.NewLinkageError(models.ErrValidation, "invalid %s %q", models.ConfigReportOnlyOnce, v)
		}
		c.ReportOnlyOnce = b
	}
	return c, nil
}
