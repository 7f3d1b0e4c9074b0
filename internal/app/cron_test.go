package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"rxfeedback/pkg/render"
	"rxfeedback/services/feedback"
	"rxfeedback/services/reports"
	"rxfeedback/services/sweeper"
)

func testApp(t *testing.T) *App {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, feedback.Migrate(context.Background(), database))
	require.NoError(t, reports.Migrate(context.Background(), database))

	store, err := feedback.NewStore(database)
	require.NoError(t, err)
	mgr, err := feedback.NewManager(store, feedback.ManagerConfig{Logger: zerolog.Nop()})
	require.NoError(t, err)
	engine, err := render.New()
	require.NoError(t, err)
	rep, err := reports.New(database, store, mgr, engine, reports.Config{Logger: zerolog.Nop()})
	require.NoError(t, err)
	sw, err := sweeper.New(mgr, sweeper.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)

	return &App{DB: database, Store: store, Sessions: mgr, Reports: rep, Sweeper: sw, log: zerolog.Nop()}
}

func TestScheduler(t *testing.T) {
	a := testApp(t)
	c, err := a.Scheduler(context.Background(), "", "")
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)

	_, err = a.Scheduler(context.Background(), "every tuesday", "")
	require.Error(t, err)
	_, err = a.Scheduler(context.Background(), "", "0 99 * * *")
	require.Error(t, err)
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{log: zerolog.New(&buf)}
	l.Error(errors.New("boom"), "job failed", "entry", 3)
	assert.Contains(t, buf.String(), `"entry":3`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}

func TestCloseRunsInReverse(t *testing.T) {
	var order []int
	a := &App{closers: []func(){func() { order = append(order, 1) }, func() { order = append(order, 2) }}}
	a.Close()
	a.Close()
	assert.Equal(t, []int{2, 1}, order)
}
