package sequence

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strconv"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestSQLCounter_Increment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	counter := NewSQLCounter(db)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sequences (tenant, name, value) VALUES ($1, $2, $3)")).
		WithArgs(1, "AC", 3).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(7))

	got, err := counter.Increment(context.Background(), 1, "AC", 3)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLCounter_Current(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	counter := NewSQLCounter(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM sequences WHERE tenant = $1 AND name = $2")).
		WithArgs(2, "IC").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM sequences")).
		WithArgs(2, "MC").
		WillReturnError(errors.New("connection reset"))

	got, err := counter.Current(context.Background(), 2, "IC")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), got)

	_, err = counter.Current(context.Background(), 2, "MC")
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func openSQLite(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLCounter_SQLiteConcurrent(t *testing.T) {
	db := openSQLite(t)
	counter := NewSQLCounter(db)
	ctx := context.Background()
	require.NoError(t, counter.Migrate(ctx))

	const workers = 20
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := counter.Increment(ctx, 0, "AC", 1)
			assert.NoError(t, err)
			results <- v
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for v := range results {
		assert.False(t, seen[v], "value %d handed out twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, workers)

	current, err := counter.Current(ctx, 0, "AC")
	require.NoError(t, err)
	assert.Equal(t, int64(workers), current)

	other, err := counter.Current(ctx, 1, "AC")
	require.NoError(t, err)
	assert.Equal(t, int64(0), other, "tenants do not share counters")
}

func TestSQLCounter_RejectsNonPositive(t *testing.T) {
	counter := NewSQLCounter(openSQLite(t))
	_, err := counter.Increment(context.Background(), 0, "AC", 0)
	assert.Error(t, err)
}

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]int64
	err    error
}

func (f *fakeRedis) IncrBy(_ context.Context, key string, value int64) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.values[key] += value
	return redis.NewIntResult(f.values[key], nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.FormatInt(v, 10), nil)
}

func TestRedisCounter(t *testing.T) {
	fake := &fakeRedis{values: map[string]int64{}}
	counter := NewRedisCounterWithClient(fake)
	ctx := context.Background()

	current, err := counter.Current(ctx, 3, "MC")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)

	v, err := counter.Increment(ctx, 3, "MC", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
	assert.Equal(t, int64(5), fake.values["sequence:3:MC"])

	current, err = counter.Current(ctx, 3, "MC")
	require.NoError(t, err)
	assert.Equal(t, int64(5), current)

	fake.err = errors.New("READONLY")
	_, err = counter.Increment(ctx, 3, "MC", 1)
	assert.ErrorContains(t, err, "READONLY")
}

func TestMemoryCounter_Concurrent(t *testing.T) {
	counter := NewMemoryCounter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = counter.Increment(context.Background(), 1, "IC", 2)
		}()
	}
	wg.Wait()

	v, err := counter.Current(context.Background(), 1, "IC")
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)
}
