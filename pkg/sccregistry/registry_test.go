package sccregistry

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeApprover struct {
	calledWith string
	err        error
}

func (f *fakeApprover) AutoApproveForCountry(ctx context.Context, countryCode string) error {
	f.calledWith = countryCode
	return f.err
}

func TestRegister_UppercasesCountryAndTriggersSweep(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	approver := &fakeApprover{}
	r := NewRegistry(db, approver)

	mock.ExpectExec(`INSERT INTO scc_registries`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec, err := r.Register(context.Background(), "Acme", "us", nil)
	require.NoError(t, err)
	assert.Equal(t, "US", rec.DestinationCountryCode)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, "US", approver.calledWith)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevoke_NoOpOnAlreadyRevokedReturnsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	r := NewRegistry(db, nil)

	mock.ExpectExec(`UPDATE scc_registries`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = r.Revoke(context.Background(), "scc-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
