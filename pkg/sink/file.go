package sink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ProfilesFile = "profiles.jsonl"
	PostsFile    = "posts.jsonl"
)

// FileSink keeps profiles.jsonl and posts.jsonl in a directory. It holds a
// keyed index of everything on disk and rewrites each file atomically with
// the merged set on every write.
type FileSink struct {
	dir    string
	logger logger.Logger

	mu           sync.Mutex
	profiles     map[string]models.Profile
	profileOrder []string
	posts        map[string]models.Post
	postOrder    []string
}

// NewFileSink creates dir if needed and loads any existing records.
func NewFileSink(dir string, log logger.Logger) (*FileSink, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if dir == "" {
		dir = "output"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	s := &FileSink{
		dir:      dir,
		logger:   logger.ForComponent(log, "sink.file"),
		profiles: make(map[string]models.Profile),
		posts:    make(map[string]models.Post),
	}

	err := readJSONL(filepath.Join(dir, ProfilesFile), func(line []byte) error {
		var p models.Profile
		if err := json.Unmarshal(line, &p); err != nil {
			return err
		}
		s.putProfile(p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ProfilesFile, err)
	}

	err = readJSONL(filepath.Join(dir, PostsFile), func(line []byte) error {
		var p models.Post
		if err := json.Unmarshal(line, &p); err != nil {
			return err
		}
		s.putPost(p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", PostsFile, err)
	}

	s.logger.DebugWithFields("file sink opened", map[string]interface{}{
		"dir":      dir,
		"profiles": len(s.profiles),
		"posts":    len(s.posts),
	})
	return s, nil
}

func (s *FileSink) Dir() string { return s.dir }

// Counts returns the number of distinct profiles and posts held.
func (s *FileSink) Counts() (profiles, posts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles), len(s.posts)
}

func (s *FileSink) Write(ctx context.Context, profiles []models.Profile, posts []models.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range profiles {
		s.putProfile(p)
	}
	for _, p := range posts {
		s.putPost(p)
	}

	if len(profiles) > 0 {
		err := writeFileAtomic(filepath.Join(s.dir, ProfilesFile), func(w io.Writer) error {
			enc := json.NewEncoder(w)
			for _, key := range s.profileOrder {
				if err := enc.Encode(s.profiles[key]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to save profiles: %w", err)
		}
	}

	if len(posts) > 0 {
		err := writeFileAtomic(filepath.Join(s.dir, PostsFile), func(w io.Writer) error {
			enc := json.NewEncoder(w)
			for _, key := range s.postOrder {
				if err := enc.Encode(s.posts[key]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to save posts: %w", err)
		}
	}

	s.logger.DebugWithFields("records written", map[string]interface{}{
		"profiles": len(profiles),
		"posts":    len(posts),
	})
	return nil
}

func (s *FileSink) Close() error { return nil }

func (s *FileSink) putProfile(p models.Profile) {
	key := p.Key()
	if key == "" {
		return
	}
	if _, ok := s.profiles[key]; !ok {
		s.profileOrder = append(s.profileOrder, key)
	}
	s.profiles[key] = p
}

func (s *FileSink) putPost(p models.Post) {
	key := p.Key()
	if key == "" {
		return
	}
	if _, ok := s.posts[key]; !ok {
		s.postOrder = append(s.postOrder, key)
	}
	s.posts[key] = p
}

func readJSONL(path string, fn func([]byte) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := fn(scanner.Bytes()); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return scanner.Err()
}

// writeFileAtomic writes to a temporary file and renames it over path.
func writeFileAtomic(path string, fill func(io.Writer) error) error {
	tempFile := path + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	w := bufio.NewWriter(out)
	err = fill(w)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()

	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close file: %w", closeErr)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
