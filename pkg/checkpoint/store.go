package checkpoint

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"igcrawler/pkg/logger"
)

// UsernameColumn is the CSV column holding identifiers.
const UsernameColumn = "username"

type fileFormat int

const (
	formatLines fileFormat = iota
	formatCSV
)

func formatFor(path string) fileFormat {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return formatCSV
	}
	return formatLines
}

// Store is a durable set of identifiers. It backs both the processed-users
// checkpoint and the discovered usernames file.
//
// The file is never overwritten wholesale with a smaller set: Flush re-reads
// it and writes the union, so a concurrent writer loses nothing.
type Store struct {
	mu     sync.Mutex
	path   string
	format fileFormat
	ids    map[string]struct{}
	order  []string
	log    logger.Logger
}

// Open loads path if it exists and returns a Store over it.
func Open(path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	s := &Store{
		path:   path,
		format: formatFor(path),
		ids:    make(map[string]struct{}),
		log:    logger.ForComponent(log, "checkpoint").WithField("path", path),
	}

	existing, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.addLocked(existing...)

	s.log.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"entries": len(s.ids),
	})
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Add inserts ids and returns how many were new.
func (s *Store) Add(ids ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ids...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Snapshot returns the identifiers sorted.
func (s *Store) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked()
}

// Ordered returns the identifiers in insertion order.
func (s *Store) Ordered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Flush merges the on-disk set into memory and writes the union back.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	onDisk, err := s.readFile()
	if err != nil {
		return err
	}
	if merged := s.addLocked(onDisk...); merged > 0 {
		s.log.DebugWithFields("merged entries written by another process", map[string]interface{}{
			"merged": merged,
		})
	}
	return s.writeLocked()
}

// Rewrite saves the in-memory set without merging the file first.
func (s *Store) Rewrite() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

func (s *Store) addLocked(ids ...string) int {
	added := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.order = append(s.order, id)
		added++
	}
	return added
}

func (s *Store) sortedLocked() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) writeLocked() error {
	ids := s.sortedLocked()
	err := writeAtomic(s.path, func(w io.Writer) error {
		if s.format == formatCSV {
			return writeCSV(w, ids)
		}
		return writeLines(w, ids)
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", s.path, err)
	}

	s.log.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"entries": len(ids),
	})
	return nil
}

func (s *Store) readFile() ([]string, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var ids []string
	if s.format == formatCSV {
		ids, err = readCSV(file)
	} else {
		ids, err = readLines(file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", s.path, err)
	}
	return ids, nil
}

func readLines(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			ids = append(ids, line)
		}
	}
	return ids, scanner.Err()
}

func writeLines(w io.Writer, ids []string) error {
	bw := bufio.NewWriter(w)
	for _, id := range ids {
		if _, err := bw.WriteString(id + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func readCSV(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	col := -1
	for i, name := range header {
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == UsernameColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("missing %q column in header", UsernameColumn)
	}

	var ids []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if col < len(record) {
			ids = append(ids, record[col])
		}
	}
	return ids, nil
}

func writeCSV(w io.Writer, ids []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{UsernameColumn}); err != nil {
		return err
	}
	for _, id := range ids {
		if err := cw.Write([]string{id}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
