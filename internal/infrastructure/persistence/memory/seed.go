package memory

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dnflvus-wq/engTest/internal/domain/achievement"
	"github.com/dnflvus-wq/engTest/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SEED
// Development fixture for the in-memory activity store. With the memory driver
// there is no upstream exam or login service, so a seed file stands in for it.
// ══════════════════════════════════════════════════════════════════════════════

// Seed is the decoded seed document.
type Seed struct {
	Parts []SeedPart `yaml:"parts"`
	Users []SeedUser `yaml:"users"`
}

// SeedPart is one book part and its chapters.
type SeedPart struct {
	BookID   int   `yaml:"book_id"`
	PartID   int   `yaml:"part_id"`
	Chapters []int `yaml:"chapters"`
}

// SeedUser is the activity of one user.
type SeedUser struct {
	ID         int64         `yaml:"id"`
	Logins     []string      `yaml:"logins"`
	Vocabulary int           `yaml:"vocabulary"`
	Chapters   map[int][]int `yaml:"chapters"` // book → chapters
	Exams      []SeedExam    `yaml:"exams"`
}

// SeedExam is one completed exam.
type SeedExam struct {
	RoundID         int64     `yaml:"round_id"`
	Mode            string    `yaml:"mode"`
	Correct         int       `yaml:"correct"`
	Total           int       `yaml:"total"`
	Passed          bool      `yaml:"passed"`
	DurationMinutes int       `yaml:"duration_minutes"`
	SubmittedAt     time.Time `yaml:"submitted_at"`
}

// LoadSeed reads and validates the seed file at path.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed document.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	for _, u := range seed.Users {
		if u.ID <= 0 {
			return nil, fmt.Errorf("seed user with invalid id %d", u.ID)
		}
		for _, day := range u.Logins {
			if _, err := timeutil.ParseDate(day); err != nil {
				return nil, fmt.Errorf("user %d: invalid login date %q: %w", u.ID, day, err)
			}
		}
		for _, e := range u.Exams {
			switch achievement.ExamMode(e.Mode) {
			case achievement.ExamModeOnline, achievement.ExamModeOffline:
			default:
				return nil, fmt.Errorf("user %d: unknown exam mode %q", u.ID, e.Mode)
			}
			if e.Correct < 0 || e.Correct > e.Total {
				return nil, fmt.Errorf("user %d: correct %d out of range for total %d", u.ID, e.Correct, e.Total)
			}
		}
	}
	return &seed, nil
}

// Apply writes the seed into the store. It returns the number of users seeded.
func (s *ActivityStore) Apply(seed *Seed) int {
	for _, p := range seed.Parts {
		s.DefinePart(Part{BookID: p.BookID, PartID: p.PartID, Chapters: p.Chapters})
	}
	for _, u := range seed.Users {
		for _, day := range u.Logins {
			at, _ := timeutil.ParseDate(day)
			s.RecordLogin(u.ID, at)
		}
		if u.Vocabulary > 0 {
			s.SetVocabulary(u.ID, u.Vocabulary)
		}
		for book, chapters := range u.Chapters {
			for _, ch := range chapters {
				s.CompleteChapter(u.ID, book, ch)
			}
		}
		for _, e := range u.Exams {
			s.RecordExam(u.ID, achievement.ExamRecord{
				RoundID:         e.RoundID,
				Mode:            achievement.ExamMode(e.Mode),
				CorrectCount:    e.Correct,
				TotalCount:      e.Total,
				Passed:          e.Passed,
				DurationMinutes: e.DurationMinutes,
				SubmittedAt:     e.SubmittedAt,
			})
		}
	}
	return len(seed.Users)
}
