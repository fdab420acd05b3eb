package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
)

const idTimeLayout = "20060102_150405"

var idPattern = regexp.MustCompile(`^session_\d{8}_\d{6}_[0-9a-f]{8}$`)

// Store allocates sessions under a base directory and owns the files
// written into them.
type Store struct {
	baseDir string
	log     logger.Logger
	now     func() time.Time
}

func NewStore(baseDir string, log logger.Logger) *Store {
	return &Store{
		baseDir: baseDir,
		log:     log,
		now:     time.Now,
	}
}

func (s *Store) BaseDir() string { return s.baseDir }

// NewID returns session_<UTC yyyyMMdd_HHmmss>_<8 hex chars>.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("session_%s_%s", now.UTC().Format(idTimeLayout), suffix)
}

// ValidID reports whether id has the session id shape.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// New allocates a session without touching the filesystem.
func (s *Store) New() models.Session {
	now := s.now().UTC()
	id := NewID(now)
	return models.Session{
		ID:        id,
		Dir:       filepath.Join(s.baseDir, id),
		CreatedAt: now,
	}
}

// Materialize creates the session directory. Existing directories are fine.
func (s *Store) Materialize(sess models.Session) error {
	if err := os.MkdirAll(sess.Dir, 0o755); err != nil {
		return errs.E(errs.KindIOFailure, "materialize session "+sess.ID, err)
	}
	return nil
}

// Create allocates and materializes a session.
func (s *Store) Create() (models.Session, error) {
	sess := s.New()
	if err := s.Materialize(sess); err != nil {
		return models.Session{}, err
	}
	s.log.Info("session created", "session_id", sess.ID, "path", sess.Dir)
	return sess, nil
}

// Open returns an existing session by id.
func (s *Store) Open(id string) (models.Session, error) {
	op := "open session"
	if !ValidID(id) {
		return models.Session{}, errs.Errorf(errs.KindValidation, op, fmt.Sprintf("malformed session id %q", id))
	}
	dir := filepath.Join(s.baseDir, id)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Session{}, errs.E(errs.KindNotFound, op+" "+id, err)
		}
		return models.Session{}, errs.E(errs.KindIOFailure, op+" "+id, err)
	}
	if !info.IsDir() {
		return models.Session{}, errs.Errorf(errs.KindNotFound, op+" "+id, "not a directory")
	}
	return models.Session{ID: id, Dir: dir, CreatedAt: info.ModTime().UTC()}, nil
}

// Save writes files into the session directory. Every name is validated
// before the first write; files already written are kept if a later write
// fails.
func (s *Store) Save(sess models.Session, files []models.Upload) ([]string, error) {
	op := "save uploaded files"
	if len(files) == 0 {
		return nil, errs.Errorf(errs.KindValidation, op, "no files supplied")
	}
	for _, f := range files {
		if err := ValidateName(f.Name); err != nil {
			s.log.Error("rejected upload", "session_id", sess.ID, "file", f.Name, "error", err)
			return nil, errs.E(errs.KindValidation, op, err)
		}
	}

	if err := s.Materialize(sess); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(sess.Dir, f.Name)
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			s.log.Error("failed to write upload", "session_id", sess.ID, "file", f.Name, "error", err)
			return paths, errs.E(errs.KindIOFailure, op, err)
		}
		paths = append(paths, path)
	}

	s.log.Info("files saved", "session_id", sess.ID, "count", len(paths))
	return paths, nil
}

// ValidateName accepts plain file names ending in .pdf, case-insensitively.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty file name")
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("file name %q must not contain a path", name)
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return fmt.Errorf("only PDF files are allowed: %q", name)
	}
	return nil
}
