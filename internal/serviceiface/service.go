package serviceiface

// Service is anything the app manager starts and stops in services.yaml
// order.
type Service interface {
	Name() string
	Start() error
	Stop() error
}

// StatusReporter is implemented by services that expose state on the health
// endpoint.
type StatusReporter interface {
	Status() map[string]interface{}
}
