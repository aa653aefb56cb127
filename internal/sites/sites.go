// Package sites loads the distraction list and builds the working domain set.
package sites

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/eliteGoblin/deepwork/internal/domain"
)

// Load reads the domain list file: one domain per line, #-prefixed lines and
// blank lines ignored.
func Load(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sites file: %w", err)
	}
	defer f.Close()

	var domains []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sites file: %w", err)
	}

	return domains, nil
}

// Build expands raw domains into the working set: every entry verbatim plus
// a www. variant for entries lacking one. Empty input is a configuration
// error, reported before any system mutation.
func Build(raw []string) (domain.DomainSet, error) {
	set := domain.NewDomainSet()
	for _, d := range raw {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		set.Add(d)
		if !strings.HasPrefix(d, "www.") {
			set.Add("www." + d)
		}
	}

	if set.Len() == 0 {
		return nil, domain.ErrEmptyDomainList
	}
	return set, nil
}
