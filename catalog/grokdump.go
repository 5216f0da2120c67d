// ABOUTME: Reader for the Python constants table emitted by the grokdump generator
// ABOUTME: Parses INSTANCE_TYPES, KNOWN_MAPS, KNOWN_OBJECTS, HEAP_FIRST_PAGES and FRAME_MARKERS

package catalog

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	sectionInstanceTypes = "INSTANCE_TYPES"
	sectionKnownMaps     = "KNOWN_MAPS"
	sectionKnownObjects  = "KNOWN_OBJECTS"
	sectionFirstPages    = "HEAP_FIRST_PAGES"
	sectionFrameMarkers  = "FRAME_MARKERS"
)

const number = `(0x[0-9a-fA-F]+|\d+)`

var (
	sectionRe = regexp.MustCompile(`^([A-Z_]+)\s*=\s*[{(]\s*$`)
	closeRe   = regexp.MustCompile(`^[})]\s*$`)
	typeRe    = regexp.MustCompile(`^` + number + `\s*:\s*"([^"]+)"\s*,?$`)
	mapRe     = regexp.MustCompile(`^\(\s*"([^"]+)"\s*,\s*` + number + `\s*\)\s*:\s*\(\s*` + number + `\s*,\s*"([^"]+)"\s*\)\s*,?$`)
	objectRe  = regexp.MustCompile(`^\(\s*"([^"]+)"\s*,\s*` + number + `\s*\)\s*:\s*"([^"]+)"\s*,?$`)
	markerRe  = regexp.MustCompile(`^"([^"]+)"\s*,?$`)
)

// ParseGrokdump reads the Python table format. Sections it does not know
// are skipped; malformed rows inside known sections are reported with their
// line numbers.
func ParseGrokdump(r io.Reader) (*Catalog, error) {
	b := NewBuilder()
	var (
		errs    error
		section string
		lineNo  int
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m := sectionRe.FindStringSubmatch(line); m != nil {
			section = m[1]
			continue
		}
		if closeRe.MatchString(line) {
			section = ""
			continue
		}
		if err := parseRow(b, section, line); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "line %d", lineNo))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading grokdump table")
	}
	if errs != nil {
		return nil, errs
	}
	return b.Build()
}

func parseRow(b *Builder, section, line string) error {
	switch section {
	case sectionInstanceTypes:
		m := typeRe.FindStringSubmatch(line)
		if m == nil {
			return errors.Errorf("malformed instance type row %q", line)
		}
		tag, err := strconv.ParseInt(m[1], 0, 32)
		if err != nil {
			return err
		}
		b.InstanceType(int(tag), m[2])

	case sectionKnownMaps:
		m := mapRe.FindStringSubmatch(line)
		if m == nil {
			return errors.Errorf("malformed known map row %q", line)
		}
		off, err := strconv.ParseUint(m[2], 0, 64)
		if err != nil {
			return err
		}
		tag, err := strconv.ParseInt(m[3], 0, 32)
		if err != nil {
			return err
		}
		b.KnownMap(m[1], off, int(tag), m[4])

	case sectionKnownObjects:
		m := objectRe.FindStringSubmatch(line)
		if m == nil {
			return errors.Errorf("malformed known object row %q", line)
		}
		off, err := strconv.ParseUint(m[2], 0, 64)
		if err != nil {
			return err
		}
		b.KnownObject(m[1], off, m[3])

	case sectionFirstPages:
		m := typeRe.FindStringSubmatch(line)
		if m == nil {
			return errors.Errorf("malformed first page row %q", line)
		}
		addr, err := strconv.ParseUint(m[1], 0, 32)
		if err != nil {
			return err
		}
		b.FirstPage(uint32(addr), m[2])

	case sectionFrameMarkers:
		m := markerRe.FindStringSubmatch(line)
		if m == nil {
			return errors.Errorf("malformed frame marker row %q", line)
		}
		b.FrameMarkers(m[1])
	}
	return nil
}
