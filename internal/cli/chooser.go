package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lucasnoah/reprofactory/internal/discover"
)

// interactiveChooser prompts the user to pick between repository
// candidates. A single candidate is taken without prompting; an empty
// answer takes the top-ranked default.
type interactiveChooser struct {
	in  io.Reader
	out io.Writer
}

func (c *interactiveChooser) Choose(candidates []discover.Candidate) (discover.Candidate, error) {
	if len(candidates) == 0 {
		return discover.Candidate{}, fmt.Errorf("no candidates to choose from")
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	fmt.Fprintf(c.out, "Found %d candidate repositories:\n", len(candidates))
	for i, cand := range candidates {
		marker := ""
		if cand.Source == discover.SourcePaperText {
			marker = " [paper link]"
		}
		fmt.Fprintf(c.out, "  %d. %s (%d stars)%s\n", i+1, cand.FullName, cand.Stars, marker)
		if cand.Description != "" {
			fmt.Fprintf(c.out, "     %s\n", cand.Description)
		}
	}
	fmt.Fprintf(c.out, "Select repository [1-%d] (default 1): ", len(candidates))

	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		return discover.Candidate{}, fmt.Errorf("read selection: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return candidates[0], nil
	}

	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(candidates) {
		return discover.Candidate{}, fmt.Errorf("invalid selection %q", line)
	}
	return candidates[n-1], nil
}
