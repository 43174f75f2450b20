package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// MigrationURL rewrites a postgres:// DSN to the pgx5:// scheme the
// migrate driver registers.
func MigrationURL(dsn string) (string, error) {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix), nil
		}
	}
	if strings.HasPrefix(dsn, "pgx5://") {
		return dsn, nil
	}
	return "", fmt.Errorf("unsupported dsn scheme in %q", redact(dsn))
}

// Migrate applies (up) or reverts (down) every migration under dir.
// It reports false when there was nothing to do.
func Migrate(dir, dsn string, up bool) (bool, error) {
	url, err := MigrationURL(dsn)
	if err != nil {
		return false, err
	}
	m, err := migrate.New("file://"+dir, url)
	if err != nil {
		return false, err
	}
	defer m.Close()

	if up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	scheme := strings.Index(dsn, "://")
	if scheme < 0 || scheme > at {
		return dsn[at:]
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}
