package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "price_records", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"price_records"}, []string{"a", "b"}).WillReturnResult(3)

	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}}
	n, err := CopyFrom(context.Background(), mock, "price_records", []string{"a", "b"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"price_records"}, []string{"a", "b"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{1, "x"}}
	_, err = CopyFrom(context.Background(), mock, "price_records", []string{"a", "b"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO price_records")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFromBatches_SplitsAtBatchSize(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// 250 rows at batch size 100 makes three COPYs
	mock.ExpectCopyFrom(pgx.Identifier{"price_records"}, []string{"a"}).WillReturnResult(100)
	mock.ExpectCopyFrom(pgx.Identifier{"price_records"}, []string{"a"}).WillReturnResult(100)
	mock.ExpectCopyFrom(pgx.Identifier{"price_records"}, []string{"a"}).WillReturnResult(50)

	rows := make([][]any, 250)
	for i := range rows {
		rows[i] = []any{i}
	}
	n, err := CopyFromBatches(context.Background(), mock, "price_records", []string{"a"}, rows, 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(250), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFromBatches_PartialFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"price_records"}, []string{"a"}).WillReturnResult(2)
	mock.ExpectCopyFrom(pgx.Identifier{"price_records"}, []string{"a"}).WillReturnError(fmt.Errorf("connection reset"))

	rows := [][]any{{1}, {2}, {3}, {4}}
	n, err := CopyFromBatches(context.Background(), mock, "price_records", []string{"a"}, rows, 2)
	require.Error(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
