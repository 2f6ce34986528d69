package file

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ReadList reads a job list file: one job config path per line. Empty lines
// and lines starting with '#' are skipped. Relative entries are resolved
// against the directory containing the list file, so a list can travel with
// its configs.
//
// The order of lines is preserved.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	base := filepath.Dir(path)

	var out []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
