package migrations

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type seedChild struct {
	name  string
	grade string
}

// SeedDev inserts a demo family (two guardians, two children), a teacher and two classes when the
// people table is empty.
func SeedDev(ctx context.Context, db *sqlx.DB) error {
	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(1) FROM people"); err != nil {
		return errors.Wrap(err, "counting people")
	}
	if count > 0 {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting seed transaction")
	}
	defer func() { _ = tx.Rollback() }()

	familyRef := uuid.NewString()
	father, mother := uuid.NewString(), uuid.NewString()
	guardians := []struct{ id, name, email, phone, role string }{
		{father, "Abdi Hassan Ali", "abdi@example.com", "6125550101", "PRIMARY"},
		{mother, "Hodan Yusuf", "hodan@example.com", "6125550102", "SECONDARY"},
	}
	for _, g := range guardians {
		if _, err := tx.ExecContext(ctx, `INSERT INTO people (id, name, email, phone) VALUES (?,?,?,?)`, g.id, g.name, g.email, g.phone); err != nil {
			return errors.Wrap(err, "seeding guardian")
		}
	}

	for _, c := range []seedChild{{"Amina Abdi", "3rd Grade"}, {"Yusuf Abdi", "1st Grade"}} {
		personID, profileID := uuid.NewString(), uuid.NewString()
		if _, err := tx.ExecContext(ctx, `INSERT INTO people (id, name) VALUES (?,?)`, personID, c.name); err != nil {
			return errors.Wrap(err, "seeding child")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO program_profiles (id, person_id, program, status, grade_level, family_reference_id)
			VALUES (?,?, 'DUGSI', 'ENROLLED', ?, ?)`, profileID, personID, c.grade, familyRef); err != nil {
			return errors.Wrap(err, "seeding profile")
		}
		for _, g := range guardians {
			if _, err := tx.ExecContext(ctx, `INSERT INTO guardian_relationships (id, guardian_person_id, dependent_person_id, role) VALUES (?,?,?,?)`,
				uuid.NewString(), g.id, personID, g.role); err != nil {
				return errors.Wrap(err, "seeding guardian link")
			}
		}
	}

	teacherID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `INSERT INTO dugsi_teachers (id, name, email) VALUES (?,?,?)`,
		teacherID, "Ustaad Mohamed", "teacher@example.com"); err != nil {
		return errors.Wrap(err, "seeding teacher")
	}
	for _, cl := range []struct{ name, shift string }{{"Juz Amma", "MORNING"}, {"Qaida", "AFTERNOON"}} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dugsi_classes (id, name, shift, teacher_id) VALUES (?,?,?,?)`,
			uuid.NewString(), cl.name, cl.shift, teacherID); err != nil {
			return errors.Wrapf(err, "seeding class %s", cl.name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing seed")
	}
	log.Printf("[SEED] demo family=%s created at %s", familyRef, time.Now().Format(time.RFC3339))
	return nil
}
