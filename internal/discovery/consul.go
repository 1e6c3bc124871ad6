package discovery

import (
	"fmt"
	"os"

	consul "github.com/hashicorp/consul/api"
	log "github.com/sirupsen/logrus"
)

// Registration is one service instance announced to the consul agent.
type Registration struct {
	client    *consul.Client
	ServiceID string
}

// Registration details derived from the environment.
type Service struct {
	Name       string
	InstanceID string
	Port       int
	HealthPath string
}

// Enabled reports whether a consul agent is configured.
func Enabled() bool {
	return os.Getenv("CONSUL_HTTP_ADDR") != ""
}

// Register announces svc to the agent at CONSUL_HTTP_ADDR with an HTTP
// health check against HealthPath.
func Register(svc Service) (*Registration, error) {
	cfg := consul.DefaultConfig()
	cfg.Address = os.Getenv("CONSUL_HTTP_ADDR")

	client, err := consul.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	reg := NewServiceRegistration(svc, hostname())
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return nil, fmt.Errorf("failed to register %s in consul: %w", svc.Name, err)
	}

	log.Infof("service %s registered in consul as %s", svc.Name, reg.ID)
	return &Registration{client: client, ServiceID: reg.ID}, nil
}

// NewServiceRegistration builds the agent payload for svc running on host.
func NewServiceRegistration(svc Service, host string) *consul.AgentServiceRegistration {
	id := svc.InstanceID
	if id == "" {
		id = host
	}
	path := svc.HealthPath
	if path == "" {
		path = "/v1/health"
	}

	return &consul.AgentServiceRegistration{
		ID:   fmt.Sprintf("%s-%s", svc.Name, id),
		Name: svc.Name,
		Port: svc.Port,
		Tags: []string{"airhockey"},
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d%s", host, svc.Port, path),
			Timeout:                        "5s",
			Interval:                       "10s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

func (r *Registration) Deregister() {
	if r == nil {
		return
	}
	if err := r.client.Agent().ServiceDeregister(r.ServiceID); err != nil {
		log.Errorf("Error deregistering %s from consul: %s", r.ServiceID, err)
		return
	}
	log.Infof("service %s deregistered from consul", r.ServiceID)
}

func hostname() string {
	if h := os.Getenv("HOSTNAME"); h != "" {
		return h
	}
	h, _ := os.Hostname()
	return h
}
