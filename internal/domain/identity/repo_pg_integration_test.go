//go:build integration

package identity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hms/hms/internal/platform/apperror"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/db/pgtest"
)

const testDomain = "patients.placeholder.invalid"

var testDB *pgtest.DB

func TestMain(m *testing.M) {
	ctx := context.Background()
	tdb, err := pgtest.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up postgres: %v\n", err)
		os.Exit(1)
	}
	testDB = tdb
	code := m.Run()
	tdb.Close()
	os.Exit(code)
}

func resetDB(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.Reset(context.Background()))
}

func countRows(t *testing.T, table string) int {
	t.Helper()
	n, err := testDB.Count(context.Background(), table)
	require.NoError(t, err)
	return n
}

// tokens returns a TokenSource yielding seq in order, then its last value.
func tokens(seq ...string) TokenSource {
	i := 0
	return func() string {
		tok := seq[i]
		if i < len(seq)-1 {
			i++
		}
		return tok
	}
}

func newPGPlaceholderService(seq ...string) *PlaceholderService {
	pool := testDB.Pool
	svc := NewPlaceholderService(NewUserRepo(pool), NewPatientRepo(pool),
		BcryptHasher{Cost: bcrypt.MinCost},
		PlaceholderConfig{EmailDomain: testDomain, EmailAttempts: 3})
	if len(seq) > 0 {
		svc.WithTokenSource(tokens(seq...))
	}
	return svc
}

func TestPG_UserCreate_DuplicateEmail(t *testing.T) {
	resetDB(t)
	ctx := context.Background()
	repo := NewUserRepo(testDB.Pool)

	u := &User{Email: "ada@example.test", PasswordHash: "x", FirstName: "Ada", LastName: "Lovelace", Role: RoleStaff, IsActive: true}
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleStaff, got.Role)

	dup := &User{Email: "ada@example.test", PasswordHash: "x", FirstName: "Ada", LastName: "King", Role: RoleStaff, IsActive: true}
	assert.ErrorIs(t, repo.Create(ctx, dup), ErrDuplicateEmail)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPG_Provision_RetriesCollisionInsideTransaction(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	taken := &User{
		Email:        PlaceholderEmail("Ravi", "Kumar", "taken", testDomain),
		PasswordHash: "x", FirstName: "Ravi", LastName: "Kumar", Role: RolePatient, IsActive: true,
	}
	require.NoError(t, NewUserRepo(testDB.Pool).Create(ctx, taken))

	svc := newPGPlaceholderService("taken", "fresh")
	var ph *PlaceholderPatient
	err := db.NewTxManager(testDB.Pool).WithinTx(ctx, func(ctx context.Context) error {
		var err error
		ph, err = svc.Provision(ctx, "Ravi", "Kumar")
		return err
	})
	require.NoError(t, err, "a collision inside a savepoint must not abort the transaction")
	assert.Equal(t, PlaceholderEmail("Ravi", "Kumar", "fresh", testDomain), ph.Email)

	pi, err := NewPatientRepo(testDB.Pool).GetIdentity(ctx, ph.PatientID)
	require.NoError(t, err)
	placeholder, ok := pi.(*PlaceholderPatient)
	require.True(t, ok, "expected placeholder variant, got %T", pi)
	assert.Equal(t, "Ravi", placeholder.FirstName)

	assert.Equal(t, 2, countRows(t, "users"))
	assert.Equal(t, 1, countRows(t, "patients"))
}

func TestPG_Provision_ExhaustedAttemptsRollBack(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	taken := &User{
		Email:        PlaceholderEmail("Ravi", "Kumar", "taken", testDomain),
		PasswordHash: "x", FirstName: "Ravi", LastName: "Kumar", Role: RolePatient, IsActive: true,
	}
	require.NoError(t, NewUserRepo(testDB.Pool).Create(ctx, taken))

	svc := newPGPlaceholderService("taken")
	err := db.NewTxManager(testDB.Pool).WithinTx(ctx, func(ctx context.Context) error {
		_, err := svc.Provision(ctx, "Ravi", "Kumar")
		return err
	})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindDependency), "got %v", err)

	assert.Equal(t, 1, countRows(t, "users"))
	assert.Zero(t, countRows(t, "patients"))
}

var errAfterProvision = errors.New("later step failed")

func TestPG_Provision_RollsBackWithCaller(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	svc := newPGPlaceholderService()
	err := db.NewTxManager(testDB.Pool).WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.Provision(ctx, "Ada", "Lovelace"); err != nil {
			return err
		}
		return errAfterProvision
	})
	require.ErrorIs(t, err, errAfterProvision)

	assert.Zero(t, countRows(t, "users"))
	assert.Zero(t, countRows(t, "patients"))
}

func TestPG_DoctorAndPatientLookups(t *testing.T) {
	resetDB(t)
	ctx := context.Background()

	doctorID, err := testDB.InsertDoctor(ctx, "Gregory", "House")
	require.NoError(t, err)
	patientID, err := testDB.InsertPatient(ctx, "Lisa", "Cuddy")
	require.NoError(t, err)

	svc := NewService(NewPatientRepo(testDB.Pool), NewDoctorRepo(testDB.Pool))

	ok, err := svc.DoctorExists(ctx, doctorID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.DoctorExists(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	d, err := svc.GetDoctor(ctx, doctorID)
	require.NoError(t, err)
	assert.Equal(t, "House", d.LastName)

	p, err := svc.GetPatient(ctx, patientID)
	require.NoError(t, err)
	_, full := p.(*FullPatient)
	assert.True(t, full, "expected full variant, got %T", p)

	ok, err = svc.PatientExists(ctx, patientID)
	require.NoError(t, err)
	assert.True(t, ok)
}
