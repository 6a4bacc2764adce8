// Package secrets redacts secret material from text before it leaves the
// process, backed by the Gitleaks rule set.
package secrets

import (
	"fmt"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// RedactedPlaceholder replaces each detected secret in scrubbed output.
const RedactedPlaceholder = "[REDACTED]"

// Finding is a detected secret.
type Finding struct {
	RuleID      string
	Description string
	Secret      string
	Line        int
}

// Scrubber detects and redacts secrets in free-form text. Safe for
// concurrent use.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewScrubber creates a scrubber with the default Gitleaks rules.
func NewScrubber() (*Scrubber, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create gitleaks detector: %w", err)
	}
	return &Scrubber{detector: detector}, nil
}

// Detect scans content and returns any secrets found.
func (s *Scrubber) Detect(content string) []Finding {
	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		findings = append(findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Secret:      f.Secret,
			Line:        f.StartLine,
		})
	}
	return findings
}

// Scrub returns content with every detected secret replaced by the
// placeholder, along with the number of redactions.
func (s *Scrubber) Scrub(content string) (string, int) {
	findings := s.Detect(content)
	if len(findings) == 0 {
		return content, 0
	}

	redacted := content
	count := 0
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		n := strings.Count(redacted, f.Secret)
		if n == 0 {
			continue
		}
		redacted = strings.ReplaceAll(redacted, f.Secret, RedactedPlaceholder)
		count += n
	}
	return redacted, count
}

// HasSecrets reports whether content contains any detectable secret.
func (s *Scrubber) HasSecrets(content string) bool {
	return len(s.Detect(content)) > 0
}
