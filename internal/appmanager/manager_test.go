package appmanager

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"CoopLedger/internal/config"
	"CoopLedger/internal/dashboard"
	"CoopLedger/internal/intake"
	"CoopLedger/internal/logger"
	"CoopLedger/internal/reconcile"
	"CoopLedger/internal/resource"
	"CoopLedger/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	name     string
	startErr error
	trail    *[]string
}

func (f *fakeService) Name() string { return f.name }
func (f *fakeService) Start() error {
	*f.trail = append(*f.trail, "start "+f.name)
	return f.startErr
}
func (f *fakeService) Stop() error {
	*f.trail = append(*f.trail, "stop "+f.name)
	return nil
}

func TestStartAllUnwindsOnFailure(t *testing.T) {
	var trail []string
	am := NewAppManager()
	am.RegisterService(&fakeService{name: "a", trail: &trail})
	am.RegisterService(&fakeService{name: "b", trail: &trail})
	am.RegisterService(&fakeService{name: "c", trail: &trail, startErr: errors.New("port in use")})

	err := am.StartAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c")
	assert.Equal(t, []string{"start a", "start b", "start c", "stop b", "stop a"}, trail)
}

func TestLoadServiceSequenceSortsByStartOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
services:
  - name: ledger
    start_order: 3
    config:
      addr: ":0"
  - name: logger
    start_order: 1
  - name: cron
    start_order: 4
    config:
      schedule: "@every 1m"
  - name: resourcemanager
    start_order: 2
`), 0644))

	configs, err := LoadServiceSequence(path)
	require.NoError(t, err)
	var names []string
	for _, c := range configs {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"logger", "resourcemanager", "ledger", "cron"}, names)
	assert.Equal(t, "@every 1m", ConfigFor(configs, "cron")["schedule"])
	assert.Empty(t, ConfigFor(configs, "logger"))
}

func TestAutoRegisterWiresServices(t *testing.T) {
	t.Cleanup(func() { logger.SetGlobalLogger(nil) })
	configs := []ServiceConfig{
		{Name: "logger", Config: map[string]interface{}{"folder_path": t.TempDir()}},
		{Name: "resourcemanager"},
		{Name: "ledger", Config: map[string]interface{}{"addr": "127.0.0.1:0"}},
		{Name: "cron", Config: map[string]interface{}{"dir": t.TempDir()}},
		{Name: "mailer"},
		{Name: "disabled", Config: map[string]interface{}{"enabled": false}},
	}
	rm := resource.NewResourceManagerService(nil)
	hub := dashboard.NewProgressHub(0)
	t.Cleanup(hub.Stop)
	in := intake.New(reconcile.NewEngine(memory.NewStore(), reconcile.WithPeriodLocker(rm)), nil)

	am := NewAppManager()
	am.AutoRegisterServices(configs, Deps{Config: config.Config{Inbox: config.InboxConfig{Schedule: config.DefaultInboxSchedule}}, Intake: in, Hub: hub, Resources: rm})

	require.NotNil(t, logger.GlobalLogger)
	assert.Same(t, rm, am.GetServiceByName("resourcemanager"))
	assert.NotNil(t, am.GetServiceByName("ledger"))
	assert.NotNil(t, am.GetServiceByName("cron"))
	assert.Nil(t, am.GetServiceByName("mailer"))

	st := am.Statuses()
	assert.Len(t, st, 4)
	assert.Equal(t, "registered", st["logger"])
	assert.Equal(t, map[string]interface{}{"addr": "127.0.0.1:0"}, st["ledger"])
}
