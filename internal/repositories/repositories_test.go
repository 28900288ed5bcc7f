package repositories

import (
	"context"
	"sync"
	"testing"

	"example.com/astrocoach/services/insight/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// dry-run database for inspecting generated SQL without a live connection
func newDryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=insight dbname=insight",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

// WINDOW is a fully reserved word in PostgreSQL. The trend label column must
// migrate under a non-reserved name so that unquoted string conditions in the
// repository queries stay valid.
func TestTrendLabelWindowColumnIsNotReserved(t *testing.T) {
	s, err := schema.Parse(&models.TrendLabel{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)

	field := s.LookUpField("Window")
	require.NotNil(t, field)
	require.Equal(t, "window_size", field.DBName)
	require.NotEqual(t, "window", field.DBName)
}

func TestTrendQueriesFilterOnRenamedColumn(t *testing.T) {
	db := newDryRunDB(t)
	repo := NewTrendRepository(db, db)

	var labels []models.TrendLabel
	tx := db.WithContext(context.Background()).
		Where("window_size = ?", 7).
		Order("period ASC").
		Find(&labels)

	require.NoError(t, tx.Error)
	require.Contains(t, tx.Statement.SQL.String(), "window_size = $1")
	require.NotContains(t, tx.Statement.SQL.String(), "window =")

	// the repository path builds without error against the renamed column
	_, err := repo.ListByWindow(context.Background(), 7)
	require.NoError(t, err)
}
