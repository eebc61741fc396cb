package scan

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"pkt.systems/eyewitness2/schema"
)

// CollectTargets gathers scan targets from repeated --url flags, an optional
// URL file (one per line, # comments), and finally stdin when nothing else
// supplied any. Targets are normalized and deduplicated with input order
// preserved.
func CollectTargets(urls []string, filePath string, stdin io.Reader) ([]string, error) {
	var raw []string
	raw = append(raw, urls...)

	if strings.TrimSpace(filePath) != "" {
		file, err := os.Open(filePath)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer func() { _ = file.Close() }()
		lines, err := readTargetLines(file)
		if err != nil {
			return nil, fmt.Errorf("read url file: %w", err)
		}
		raw = append(raw, lines...)
	}

	if len(raw) == 0 && stdin != nil {
		lines, err := readTargetLines(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		raw = append(raw, lines...)
	}

	if len(raw) == 0 {
		return nil, schema.ErrNoTargets
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, candidate := range raw {
		target, err := schema.NormalizeTarget(candidate)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out, nil
}

func readTargetLines(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var out []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, scanner.Err()
}
