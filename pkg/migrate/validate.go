package migrate

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"go.uber.org/multierr"
)

var sqlFileRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

const (
	upMarker   = "-- +goose Up"
	downMarker = "-- +goose Down"
)

// ValidateDir checks the migrations under dir. See ValidateFS.
func ValidateDir(dir string) error {
	if dir == "" {
		return errors.New("dir is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}
	return ValidateFS(os.DirFS(dir))
}

// ValidateFS checks every .sql file at the root of fsys: the name must be
// <YYYYMMDDHHMMSS>_<slug>.sql, versions must be unique and the body must carry
// an Up marker followed by a Down marker. All problems are reported together.
func ValidateFS(fsys fs.FS) error {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	if len(names) == 0 {
		return errors.New("no migrations found")
	}

	var problems error
	owners := make(map[string]string, len(names))
	for _, name := range names {
		m := sqlFileRe.FindStringSubmatch(name)
		if m == nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: expected YYYYMMDDHHMMSS_name.sql", name))
			continue
		}
		if first, dup := owners[m[1]]; dup {
			problems = multierr.Append(problems, fmt.Errorf("%s: version %s already used by %s", name, m[1], first))
		} else {
			owners[m[1]] = name
		}

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", name, err))
			continue
		}
		if err := checkMarkers(body); err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", name, err))
		}
	}
	return problems
}

// checkMarkers requires one Up section before one Down section.
func checkMarkers(body []byte) error {
	var ups, downs int
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		switch line := strings.TrimSpace(scanner.Text()); {
		case strings.HasPrefix(line, upMarker):
			if downs > 0 {
				return errors.New("Down section precedes Up")
			}
			ups++
		case strings.HasPrefix(line, downMarker):
			downs++
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	switch {
	case ups == 0:
		return fmt.Errorf("missing %q", upMarker)
	case downs == 0:
		return fmt.Errorf("missing %q", downMarker)
	case ups > 1 || downs > 1:
		return errors.New("more than one Up or Down section")
	}
	return nil
}
