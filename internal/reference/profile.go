package reference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// HistogramBucket is one slice of a relationship's empirical cM
// distribution. Buckets are ordered and used for display only; scoring
// never reads them.
type HistogramBucket struct {
	Range      string  `json:"range"`
	Percentage float64 `json:"percentage"`
}

// Profile describes one known relationship type. Profiles are immutable
// after load and shared read-only across all requests.
type Profile struct {
	Code         string            `json:"code"`
	Name         string            `json:"name"`
	Abbreviation string            `json:"abbreviation"`
	AverageCM    float64           `json:"average_cm"`
	MinCM        float64           `json:"min_cm"`
	MaxCM        float64           `json:"max_cm"`
	Generation   *int              `json:"generation,omitempty"`
	Histogram    []HistogramBucket `json:"cm_histogram,omitempty"`
}

// ContainsCM reports whether cm falls inside the profile's empirical range.
func (p Profile) ContainsCM(cm float64) bool {
	return cm >= p.MinCM && cm <= p.MaxCM
}

// Catalog is the reference dataset: the ordered collection of relationship
// profiles loaded once at startup. Declaration order in the data file is
// preserved because it breaks ranking ties.
type Catalog struct {
	profiles []Profile
	byCode   map[string]int
}

// relationshipsFile and distributionsFile are the data-dir file names the
// catalog is assembled from.
const (
	relationshipsFile = "relationships.json"
	distributionsFile = "distributions.json"
)

// LoadCatalog reads and validates the reference dataset from dataDir.
// A missing file, unreadable JSON, an empty profile list or a profile
// violating min <= average <= max is a fatal startup error.
func LoadCatalog(dataDir string) (*Catalog, error) {
	relPath := filepath.Join(dataDir, relationshipsFile)
	raw, err := os.ReadFile(relPath)
	if err != nil {
		return nil, fmt.Errorf("reference data missing: %w", err)
	}

	var profiles []Profile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", relationshipsFile, err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("reference data missing: %s contains no profiles", relationshipsFile)
	}

	histograms, err := loadDistributions(filepath.Join(dataDir, distributionsFile))
	if err != nil {
		return nil, err
	}

	byCode := make(map[string]int, len(profiles))
	for i := range profiles {
		p := &profiles[i]
		if p.Code == "" {
			return nil, fmt.Errorf("profile %d has an empty code", i)
		}
		if _, dup := byCode[p.Code]; dup {
			return nil, fmt.Errorf("duplicate profile code %q", p.Code)
		}
		if !(p.MinCM <= p.AverageCM && p.AverageCM <= p.MaxCM) {
			return nil, fmt.Errorf("profile %q violates min <= average <= max (%v, %v, %v)",
				p.Code, p.MinCM, p.AverageCM, p.MaxCM)
		}
		p.Histogram = histograms[p.Code]
		byCode[p.Code] = i
	}

	return &Catalog{profiles: profiles, byCode: byCode}, nil
}

func loadDistributions(path string) (map[string][]HistogramBucket, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reference data missing: %w", err)
	}

	var histograms map[string][]HistogramBucket
	if err := json.Unmarshal(raw, &histograms); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", distributionsFile, err)
	}
	return histograms, nil
}

// Profiles returns the profiles in declaration order. Callers must not
// mutate the returned slice.
func (c *Catalog) Profiles() []Profile {
	return c.profiles
}

// ByCode looks up a profile by its code.
func (c *Catalog) ByCode(code string) (Profile, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return Profile{}, false
	}
	return c.profiles[i], true
}

// MatchingCM returns the profiles whose [min, max] range contains cm, in
// declaration order.
func (c *Catalog) MatchingCM(cm float64) []Profile {
	var out []Profile
	for _, p := range c.profiles {
		if p.ContainsCM(cm) {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of profiles in the catalog.
func (c *Catalog) Len() int {
	return len(c.profiles)
}
