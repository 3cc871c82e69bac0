package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crlink-unfurler/internal/store"
)

func TestStoreInstallationCreatesTableOnce(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewInstallationStoreWithPool(mock, "")
	require.NoError(t, err)

	installedAt := time.Unix(1700000000, 0).UTC()
	inst := store.Installation{TeamID: "T1", BotToken: "xoxb-1", InstalledAt: installedAt}
	blob := []byte(`{"team_id":"T1","enterprise_id":"","bot_token":"xoxb-1","installed_at":"2023-11-14T22:13:20Z"}`)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS app_installs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("INSERT INTO app_installs").
		WithArgs("T1", "", blob).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO app_installs").
		WithArgs("T1", "", blob).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StoreInstallation(context.Background(), inst))
	require.NoError(t, s.StoreInstallation(context.Background(), inst))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetInstallation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewInstallationStoreWithPool(mock, "installs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS installs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery("SELECT installation_blob FROM installs").
		WithArgs("T1", "E1").
		WillReturnRows(pgxmock.NewRows([]string{"installation_blob"}).
			AddRow([]byte(`{"team_id":"T1","enterprise_id":"E1","bot_token":"xoxb-9"}`)))
	mock.ExpectQuery("SELECT installation_blob FROM installs").
		WithArgs("T2", "").
		WillReturnRows(pgxmock.NewRows([]string{"installation_blob"}))

	got, err := s.GetInstallation(context.Background(), "T1", "E1")
	require.NoError(t, err)
	require.Equal(t, store.Installation{TeamID: "T1", EnterpriseID: "E1", BotToken: "xoxb-9"}, got)

	_, err = s.GetInstallation(context.Background(), "T2", "")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaFailureIsRetried(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewInstallationStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS app_installs").WillReturnError(errors.New("connection refused"))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS app_installs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery("SELECT installation_blob").
		WithArgs("T1", "").
		WillReturnRows(pgxmock.NewRows([]string{"installation_blob"}))

	_, err = s.GetInstallation(context.Background(), "T1", "")
	require.ErrorContains(t, err, "connection refused")
	_, err = s.GetInstallation(context.Background(), "T1", "")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewInstallationStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewInstallationStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewInstallationStoreWithPool(mock, "bad-name;")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewInstallationStore(context.Background(), InstallationStoreConfig{})
	require.ErrorContains(t, err, "db.dsn is required")
}
