package appmanager

import (
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"CoopLedger/api/ledger"
	"CoopLedger/internal/config"
	"CoopLedger/internal/dashboard"
	"CoopLedger/internal/intake"
	"CoopLedger/internal/jobs"
	"CoopLedger/internal/logger"
	"CoopLedger/internal/resource"
	"CoopLedger/internal/serviceiface"

	"gopkg.in/yaml.v3"
)

// Deps are the objects built in main that services are wired to.
type Deps struct {
	Config    config.Config
	Intake    *intake.Intake
	Hub       *dashboard.ProgressHub
	Resources *resource.ResourceManager
}

type constructor func(cfg map[string]interface{}, deps Deps, am *AppManager) serviceiface.Service

var serviceConstructors = map[string]constructor{
	"logger": func(cfg map[string]interface{}, _ Deps, _ *AppManager) serviceiface.Service {
		return logger.NewLoggerService(cfg)
	},
	"resourcemanager": func(cfg map[string]interface{}, deps Deps, _ *AppManager) serviceiface.Service {
		if deps.Resources != nil {
			return deps.Resources
		}
		return resource.NewResourceManagerService(cfg)
	},
	"ledger": func(cfg map[string]interface{}, deps Deps, am *AppManager) serviceiface.Service {
		return ledger.NewLedgerService(cfg, deps.Config.HTTP, deps.Intake, deps.Hub, am.Statuses)
	},
	"cron": func(cfg map[string]interface{}, deps Deps, _ *AppManager) serviceiface.Service {
		return jobs.NewCronService(cfg, deps.Intake, deps.Config.Inbox)
	},
}

// ------------------- MANAGER -------------------

type AppManager struct {
	services []serviceiface.Service
	mu       sync.RWMutex
}

func NewAppManager() *AppManager {
	return &AppManager{
		services: make([]serviceiface.Service, 0),
	}
}

func (am *AppManager) RegisterService(s serviceiface.Service) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.services = append(am.services, s)
}

func (am *AppManager) snapshot() []serviceiface.Service {
	am.mu.RLock()
	defer am.mu.RUnlock()
	return append([]serviceiface.Service(nil), am.services...)
}

// StartAll starts services in registration order. On failure the ones
// already started are stopped again.
func (am *AppManager) StartAll() error {
	services := am.snapshot()
	for i, service := range services {
		log.Println("[INFO] Starting service:", service.Name())
		if err := service.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				services[j].Stop()
			}
			return fmt.Errorf("failed to start service %s: %w", service.Name(), err)
		}
	}
	return nil
}

// StopAll stops services in reverse order, carrying on past failures.
func (am *AppManager) StopAll() error {
	services := am.snapshot()
	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		log.Println("[INFO] Stopping service:", svc.Name())
		if err := svc.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to stop service %s: %w", svc.Name(), err)
		}
	}
	return firstErr
}

// Statuses reports each service by name: its Status() when it has one,
// "registered" otherwise.
func (am *AppManager) Statuses() map[string]interface{} {
	out := map[string]interface{}{}
	for _, svc := range am.snapshot() {
		if r, ok := svc.(serviceiface.StatusReporter); ok {
			out[svc.Name()] = r.Status()
		} else {
			out[svc.Name()] = "registered"
		}
	}
	return out
}

// ------------------- YAML CONFIG -------------------

type ServiceSequencer struct {
	Services []ServiceConfig `yaml:"services"`
}

type ServiceConfig struct {
	Name       string                 `yaml:"name"`
	StartOrder int                    `yaml:"start_order"`
	Config     map[string]interface{} `yaml:"config"`
}

func LoadServiceSequence(path string) ([]ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seq ServiceSequencer
	if err := yaml.Unmarshal(data, &seq); err != nil {
		return nil, err
	}

	// sort by start_order
	sort.SliceStable(seq.Services, func(i, j int) bool {
		return seq.Services[i].StartOrder < seq.Services[j].StartOrder
	})

	return seq.Services, nil
}

// ConfigFor returns the config block of the named service, or an empty map.
func ConfigFor(configs []ServiceConfig, name string) map[string]interface{} {
	for _, c := range configs {
		if c.Name == name && c.Config != nil {
			return c.Config
		}
	}
	return map[string]interface{}{}
}

// AutoRegisterServices builds every known service listed in configs and
// makes the logger global. Unknown names are logged and skipped.
func (am *AppManager) AutoRegisterServices(configs []ServiceConfig, deps Deps) {
	for _, svc := range configs {
		constructor, ok := serviceConstructors[svc.Name]
		if !ok {
			log.Printf("[WARN] unknown service %q in services.yaml", svc.Name)
			continue
		}
		if enabled, ok := svc.Config["enabled"].(bool); ok && !enabled {
			continue
		}
		cfg := svc.Config
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		am.RegisterService(constructor(cfg, deps, am))
	}

	for _, svc := range am.snapshot() {
		if l, ok := svc.(*logger.LoggerService); ok {
			logger.SetGlobalLogger(l)
			break
		}
	}
}

func (am *AppManager) GetServiceByName(name string) serviceiface.Service {
	for _, svc := range am.snapshot() {
		if svc.Name() == name {
			return svc
		}
	}
	return nil
}
