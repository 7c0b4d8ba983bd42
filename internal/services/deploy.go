package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"domainpilot/internal/models"

	"go.uber.org/zap"
)

const deployTimeout = 90 * time.Second

// nginx server block; TLS paths follow the certbot live layout.
var proxyConfigTemplate = template.Must(template.New("server").Parse(`server {
    listen {{ .Port }}{{ if .SSLEnabled }} ssl{{ end }};
    server_name {{ .Domain }};
{{ if .SSLEnabled }}
    ssl_certificate /etc/letsencrypt/live/{{ .Domain }}/fullchain.pem;
    ssl_certificate_key /etc/letsencrypt/live/{{ .Domain }}/privkey.pem;
{{ end }}{{ if .Upstream }}
    location / {
        proxy_pass http://{{ .Upstream }};
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-Proto $scheme;
    }
{{ else }}
    root {{ .DocumentRoot }};
    index index.html;
{{ end }}}
`))

// Driver generates and applies the reverse-proxy configuration for a domain,
// restarts the served process and gates the result on a bounded health-check
// window.
type Driver struct {
	monitor *Monitor
	log     *zap.Logger

	// HealthWindow and HealthInterval bound the post-apply health poll.
	// Exposed so tests can shrink them.
	HealthWindow   time.Duration
	HealthInterval time.Duration
}

func NewDriver(monitor *Monitor, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{
		monitor:        monitor,
		log:            log,
		HealthWindow:   30 * time.Second,
		HealthInterval: 2 * time.Second,
	}
}

// Deploy writes the proxy config, reloads the server process and waits for a
// healthy probe before reporting success.
func (d *Driver) Deploy(ctx context.Context, domain string, cfg models.DeploymentConfig, mode ExecutionMode) error {
	ctx, cancel := context.WithTimeout(ctx, deployTimeout)
	defer cancel()

	conf, err := RenderProxyConfig(domain, cfg)
	if err != nil {
		return &DeploymentError{Domain: domain, Err: err}
	}

	if !mode.Simulated() {
		if err := d.apply(ctx, domain, conf, mode.Remote); err != nil {
			return &DeploymentError{Domain: domain, Err: err}
		}
	} else {
		d.log.Info("simulated deployment, skipping remote apply", zap.String("domain", domain))
	}

	if err := d.waitHealthy(ctx, mode); err != nil {
		return &DeploymentError{Domain: domain, Err: err}
	}
	return nil
}

// Restart bounces the served process and reuses the health-check wait.
func (d *Driver) Restart(ctx context.Context, domain string, mode ExecutionMode) error {
	ctx, cancel := context.WithTimeout(ctx, deployTimeout)
	defer cancel()

	if !mode.Simulated() {
		if _, err := mode.Remote.Run(ctx, "systemctl restart nginx"); err != nil {
			return &DeploymentError{Domain: domain, Err: err}
		}
	}
	if err := d.waitHealthy(ctx, mode); err != nil {
		return &DeploymentError{Domain: domain, Err: err}
	}
	return nil
}

// Rollback removes the domain's server block and reloads, taking the domain
// out of service.
func (d *Driver) Rollback(ctx context.Context, domain string, mode ExecutionMode) error {
	ctx, cancel := context.WithTimeout(ctx, deployTimeout)
	defer cancel()

	if mode.Simulated() {
		return nil
	}
	cmd := fmt.Sprintf("rm -f /etc/nginx/sites-enabled/%s.conf && nginx -t && systemctl reload nginx", domain)
	if _, err := mode.Remote.Run(ctx, cmd); err != nil {
		return &DeploymentError{Domain: domain, Err: err}
	}
	return nil
}

func (d *Driver) apply(ctx context.Context, domain, conf string, exec Executor) error {
	path := fmt.Sprintf("/etc/nginx/sites-available/%s.conf", domain)
	write := fmt.Sprintf("cat > %s <<'NGINX_EOF'\n%s\nNGINX_EOF", path, conf)
	if out, err := exec.Run(ctx, write); err != nil {
		return fmt.Errorf("write config: %w: %s", err, out)
	}

	enable := fmt.Sprintf("ln -sf %s /etc/nginx/sites-enabled/%s.conf && nginx -t && systemctl reload nginx", path, domain)
	if out, err := exec.Run(ctx, enable); err != nil {
		return fmt.Errorf("apply config: %w: %s", err, out)
	}
	return nil
}

func (d *Driver) waitHealthy(ctx context.Context, mode ExecutionMode) error {
	deadline := time.Now().Add(d.HealthWindow)
	for {
		report, err := d.monitor.Probe(ctx, mode)
		if err == nil && report.Status == HealthHealthy {
			return nil
		}
		if err != nil {
			d.log.Warn("health probe failed", zap.Error(err))
		}

		if time.Now().After(deadline) {
			return errors.New("server did not become healthy within the health-check window")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.HealthInterval):
		}
	}
}

// RenderProxyConfig produces the server block for a domain.
func RenderProxyConfig(domain string, cfg models.DeploymentConfig) (string, error) {
	if cfg.Port == 0 {
		cfg.Port = 80
		if cfg.SSLEnabled {
			cfg.Port = 443
		}
	}
	var b strings.Builder
	err := proxyConfigTemplate.Execute(&b, struct {
		Domain string
		models.DeploymentConfig
	}{Domain: domain, DeploymentConfig: cfg})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
