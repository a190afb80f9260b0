package migrations

import (
	"context"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var schema = []struct {
	name string
	ddl  string
}{
	{"people", `
	CREATE TABLE IF NOT EXISTS people (
		id CHAR(36) PRIMARY KEY,
		name VARCHAR(191) NOT NULL,
		email VARCHAR(191) NULL,
		phone VARCHAR(32) NULL,
		date_of_birth DATE NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_people_email (email),
		INDEX idx_people_phone (phone)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"program_profiles", `
	CREATE TABLE IF NOT EXISTS program_profiles (
		id CHAR(36) PRIMARY KEY,
		person_id CHAR(36) NOT NULL,
		program VARCHAR(32) NOT NULL DEFAULT 'DUGSI',
		status VARCHAR(32) NOT NULL DEFAULT 'REGISTERED',
		gender VARCHAR(16) NULL,
		grade_level VARCHAR(32) NULL,
		school_name VARCHAR(191) NULL,
		health_info TEXT NULL,
		family_reference_id CHAR(36) NULL,
		withdrawal_reason VARCHAR(64) NULL,
		withdrawal_note TEXT NULL,
		withdrawn_at DATETIME NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_profiles_family (family_reference_id),
		INDEX idx_profiles_program_status (program, status),
		FOREIGN KEY (person_id) REFERENCES people(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"guardian_relationships", `
	CREATE TABLE IF NOT EXISTS guardian_relationships (
		id CHAR(36) PRIMARY KEY,
		guardian_person_id CHAR(36) NOT NULL,
		dependent_person_id CHAR(36) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'PRIMARY',
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		INDEX idx_guardian_dependent (dependent_person_id),
		FOREIGN KEY (guardian_person_id) REFERENCES people(id) ON DELETE CASCADE,
		FOREIGN KEY (dependent_person_id) REFERENCES people(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"billing_accounts", `
	CREATE TABLE IF NOT EXISTS billing_accounts (
		id CHAR(36) PRIMARY KEY,
		family_reference_id CHAR(36) NOT NULL UNIQUE,
		person_id CHAR(36) NULL,
		stripe_customer_id VARCHAR(64) NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"subscriptions", `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id CHAR(36) PRIMARY KEY,
		billing_account_id CHAR(36) NOT NULL,
		stripe_subscription_id VARCHAR(64) NOT NULL UNIQUE,
		status VARCHAR(32) NOT NULL,
		amount BIGINT NOT NULL DEFAULT 0,
		currency VARCHAR(8) NOT NULL DEFAULT 'usd',
		current_period_start DATETIME NULL,
		current_period_end DATETIME NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		FOREIGN KEY (billing_account_id) REFERENCES billing_accounts(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"dugsi_teachers", `
	CREATE TABLE IF NOT EXISTS dugsi_teachers (
		id CHAR(36) PRIMARY KEY,
		name VARCHAR(191) NOT NULL,
		email VARCHAR(191) NULL,
		phone VARCHAR(32) NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"dugsi_classes", `
	CREATE TABLE IF NOT EXISTS dugsi_classes (
		id CHAR(36) PRIMARY KEY,
		name VARCHAR(191) NOT NULL,
		shift VARCHAR(16) NOT NULL,
		teacher_id CHAR(36) NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (teacher_id) REFERENCES dugsi_teachers(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"dugsi_class_enrollments", `
	CREATE TABLE IF NOT EXISTS dugsi_class_enrollments (
		id CHAR(36) PRIMARY KEY,
		class_id CHAR(36) NOT NULL,
		profile_id CHAR(36) NOT NULL,
		is_active TINYINT(1) NOT NULL DEFAULT 1,
		assigned_at DATETIME NOT NULL,
		INDEX idx_enrollments_profile (profile_id, is_active),
		FOREIGN KEY (class_id) REFERENCES dugsi_classes(id) ON DELETE CASCADE,
		FOREIGN KEY (profile_id) REFERENCES program_profiles(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
	{"dugsi_teacher_checkins", `
	CREATE TABLE IF NOT EXISTS dugsi_teacher_checkins (
		id CHAR(36) PRIMARY KEY,
		teacher_id CHAR(36) NOT NULL,
		shift VARCHAR(16) NOT NULL,
		checked_in_at DATETIME NOT NULL,
		checked_out_at DATETIME NULL,
		is_late TINYINT(1) NOT NULL DEFAULT 0,
		note VARCHAR(255) NULL,
		INDEX idx_checkins_time (checked_in_at),
		FOREIGN KEY (teacher_id) REFERENCES dugsi_teachers(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`},
}

// Migrate creates required tables if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, s := range schema {
		if _, err := db.ExecContext(ctx, s.ddl); err != nil {
			return errors.Wrapf(err, "creating table %s", s.name)
		}
		log.Printf("[MIGRATE] table=%s ok", s.name)
	}
	return nil
}
