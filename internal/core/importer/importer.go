// Package importer moves case history and logins from a workbook store into
// the sqlite store. Re-running an import only adds rows not yet present.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/neilberkman/casesim/internal/core/db"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/workbook"
)

// Source is a store that can hand over its full contents
type Source interface {
	AllCases(ctx context.Context) ([]models.CaseRecord, error)
	Logins(ctx context.Context) ([]workbook.Login, error)
}

// Result counts what an import did
type Result struct {
	CasesImported int
	CasesSkipped  int // already in the database
	CasesInvalid  int
	UsersImported int
	UsersSkipped  int
}

// Importer handles importing workbook rows into the database
type Importer struct {
	db *db.DB
}

// New creates a new importer
func New(database *db.DB) *Importer {
	return &Importer{db: database}
}

// ImportCase inserts rec unless a case with the same id exists. Rows
// without an id get one derived from their content so re-imports match.
func (i *Importer) ImportCase(ctx context.Context, rec models.CaseRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = legacyID(rec)
	}

	var exists bool
	err := i.db.QueryRow("SELECT EXISTS(SELECT 1 FROM cases WHERE case_id = ?)", rec.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check case %s: %w", rec.ID, err)
	}
	if exists {
		return false, nil
	}

	if err := i.db.RecordCase(ctx, rec); err != nil {
		return false, err
	}
	return true, nil
}

// ImportUser adds a login, hashing its plaintext password. Existing users
// keep their current password.
func (i *Importer) ImportUser(ctx context.Context, login workbook.Login) (bool, error) {
	err := i.db.AddUser(ctx, login.User, login.Password)
	if errors.Is(err, db.ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ImportAll copies every login and case from src
func (i *Importer) ImportAll(ctx context.Context, src Source, progress ProgressCallback) (*Result, error) {
	res := &Result{}

	logins, err := src.Logins(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read logins: %w", err)
	}
	for _, l := range logins {
		if l.Password == "" {
			log.Printf("[IMPORT] Skipping user %s without a password", l.User)
			res.UsersSkipped++
			continue
		}
		added, err := i.ImportUser(ctx, l)
		if err != nil {
			return res, fmt.Errorf("failed to import user %s: %w", l.User, err)
		}
		if added {
			res.UsersImported++
		} else {
			res.UsersSkipped++
		}
	}

	cases, err := src.AllCases(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to read cases: %w", err)
	}
	if progress != nil {
		progress.Start(len(cases))
	}
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.Validate(); err != nil {
			log.Printf("[IMPORT] Skipping invalid row for %q: %v", c.User, err)
			res.CasesInvalid++
			continue
		}

		added, err := i.ImportCase(ctx, c)
		if err != nil {
			return res, err
		}
		if added {
			res.CasesImported++
		} else {
			res.CasesSkipped++
		}

		if progress != nil {
			progress.Update(c.User + ": " + c.Summary)
		}
	}
	if progress != nil {
		progress.Finish()
	}

	return res, nil
}

func legacyID(rec models.CaseRecord) string {
	hash := sha256.New()
	for _, part := range []string{
		strings.ToLower(strings.TrimSpace(rec.User)),
		string(rec.Specialty),
		rec.CreatedAt.UTC().Format("2006-01-02T15:04:05"),
		rec.Summary,
	} {
		hash.Write([]byte(part))
		hash.Write([]byte{0})
	}
	return "wb-" + hex.EncodeToString(hash.Sum(nil))[:16]
}
