package asarfs

import (
	"path/filepath"
	"slices"
	"strings"
)

// DefaultSuffix marks archive containers.
const DefaultSuffix = ".asar"

// Classification is the outcome of classifying a path. The zero value means
// the path is not inside an archive.
type Classification struct {
	Archived    bool
	ArchivePath string
	// InnerPath is relative to the archive root and empty for the root.
	InnerPath string
}

// Classifier splits paths into archive and member parts.
type Classifier struct {
	suffix   string
	disabled bool
}

// NewClassifier returns a classifier for suffix. A disabled classifier
// reports every path as not archived.
func NewClassifier(suffix string, disabled bool) *Classifier {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Classifier{suffix: suffix, disabled: disabled}
}

func (c *Classifier) Suffix() string  { return c.suffix }
func (c *Classifier) Disabled() bool { return c.disabled }

// Classify finds the last archive component of p. A path that itself ends in
// the suffix addresses the archive root.
func (c *Classifier) Classify(p string) Classification {
	if c.disabled || p == "" {
		return Classification{}
	}
	cleaned := filepath.Clean(p)
	if strings.HasSuffix(cleaned, c.suffix) {
		return Classification{Archived: true, ArchivePath: cleaned}
	}
	marker := c.suffix + string(filepath.Separator)
	idx := strings.LastIndex(cleaned, marker)
	if idx == -1 {
		return Classification{}
	}
	end := idx + len(c.suffix)
	return Classification{
		Archived:    true,
		ArchivePath: cleaned[:end],
		InnerPath:   cleaned[end+1:],
	}
}

// ClassifyBytes classifies a path held in a byte buffer.
func (c *Classifier) ClassifyBytes(p []byte) Classification {
	return c.Classify(string(p))
}

// NoAsarRoles are the process roles that ignore the disable flag.
var NoAsarRoles = []string{"browser", "renderer"}

// DisabledFor applies the disable flag unless role is one of NoAsarRoles.
func DisabledFor(noAsar bool, role string) bool {
	return noAsar && !slices.Contains(NoAsarRoles, role)
}
