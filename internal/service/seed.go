package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
)

// Catalog is the YAML layout of a seed file:
//
//	suites:
//	  - id: smoke
//	    name: Smoke tests
//	    category: smoke
//	    enabled: true
//	    cases:
//	      - id: TC001
//	        name: login works
//	        file_path: tests/test_login.py
//	        function_name: test_login
type Catalog struct {
	Suites []CatalogSuite `yaml:"suites"`
}

// CatalogSuite is a suite with its nested cases. Enabled defaults to true.
type CatalogSuite struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Category    string            `yaml:"category,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty"`
	Cases       []domain.TestCase `yaml:"cases"`
}

// LoadCatalogFile reads and parses a seed file.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()
	return DecodeCatalog(f)
}

// DecodeCatalog parses a seed document. Unknown fields are rejected.
func DecodeCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var cat Catalog
	if err := dec.Decode(&cat); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return &cat, nil
}

// SeedCatalog upserts every suite and case of cat. Suite order in the file
// is the case order used when a run is created from the suite.
func (s *Service) SeedCatalog(ctx context.Context, cat *Catalog) (suites, cases int, err error) {
	now := s.now().UTC()
	for i := range cat.Suites {
		cs := &cat.Suites[i]
		if cs.ID == "" || cs.Name == "" {
			return suites, cases, domain.Validationf("suite #%d: id and name are required", i+1)
		}
		suite := domain.TestSuite{
			ID:          cs.ID,
			Name:        cs.Name,
			Description: cs.Description,
			Category:    cs.Category,
			Enabled:     cs.Enabled == nil || *cs.Enabled,
			CreatedAt:   now,
		}
		if err := s.store.UpsertSuite(ctx, &suite); err != nil {
			return suites, cases, err
		}
		suites++

		for j := range cs.Cases {
			tc := cs.Cases[j]
			if tc.ID == "" || tc.Name == "" {
				return suites, cases, domain.Validationf("suite %s case #%d: id and name are required", cs.ID, j+1)
			}
			tc.SuiteID = cs.ID
			if err := normalizeCase(&tc); err != nil {
				return suites, cases, fmt.Errorf("suite %s case %s: %w", cs.ID, tc.ID, err)
			}
			// Creation times keep file order stable within the suite.
			tc.CreatedAt = now.Add(time.Duration(j) * time.Microsecond)
			tc.UpdatedAt = now
			if err := s.store.UpsertCase(ctx, &tc); err != nil {
				return suites, cases, err
			}
			cases++
		}
	}
	s.logger.Info("catalog seeded", zap.Int("suites", suites), zap.Int("cases", cases))
	return suites, cases, nil
}
