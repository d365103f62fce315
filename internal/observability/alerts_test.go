package observability

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	jobmetrics "github.com/dukaan-erp/dukaan-erp/internal/jobs"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertGroup struct {
	Name  string      `yaml:"name"`
	Rules []alertRule `yaml:"rules"`
}

type alertSpec struct {
	Groups []alertGroup `yaml:"groups"`
}

func TestFinanceAlertRules(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "finance.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	if len(spec.Groups) == 0 {
		t.Fatal("expected at least one alert group")
	}

	var financeGroup *alertGroup
	for i := range spec.Groups {
		if spec.Groups[i].Name == "finance" {
			financeGroup = &spec.Groups[i]
			break
		}
	}
	if financeGroup == nil {
		t.Fatal("finance alert group missing")
	}

	expected := map[string]struct {
		severity string
		runbook  string
	}{
		"HighErrorRate":  {severity: "critical", runbook: "docs/runbook-ops-finance.md#high-error-rate"},
		"HighLatency":    {severity: "warning", runbook: "docs/runbook-ops-finance.md#high-latency"},
		"IntegrityFault": {severity: "critical", runbook: "docs/runbook-ops-finance.md#integrity-fault"},
	}

	if len(financeGroup.Rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(financeGroup.Rules))
	}

	for _, rule := range financeGroup.Rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Fatalf("rule %s severity mismatch: %s", rule.Alert, rule.Labels["severity"])
		}
		if rule.Annotations["runbook"] != want.runbook {
			t.Fatalf("rule %s runbook mismatch: %s", rule.Alert, rule.Annotations["runbook"])
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
			t.Fatalf("rule %s must include summary and description annotations", rule.Alert)
		}
		if rule.Expr == "" {
			t.Fatalf("rule %s must define an expression", rule.Alert)
		}
		if rule.For == "" {
			t.Fatalf("rule %s must define a hold duration", rule.Alert)
		}
	}
}

// Every series the IntegrityFault expression watches must be one the
// application actually increments, otherwise the alert can never fire.
func TestIntegrityFaultAlertWatchesEmittedSeries(t *testing.T) {
	path := filepath.Join("..", "..", "deploy", "prometheus", "alerts", "finance.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read alert file: %v", err)
	}

	var spec alertSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		t.Fatalf("failed to unmarshal alert file: %v", err)
	}

	var expr string
	for _, group := range spec.Groups {
		for _, rule := range group.Rules {
			if rule.Alert == "IntegrityFault" {
				expr = rule.Expr
			}
		}
	}
	if expr == "" {
		t.Fatal("IntegrityFault rule missing")
	}

	names := regexp.MustCompile(`dukaan_[a-z_]+`).FindAllString(expr, -1)
	if len(names) == 0 {
		t.Fatalf("no metric names found in expression %q", expr)
	}

	// Fault counters as the HTTP binary and the worker binary emit them.
	httpMetrics := NewMetrics()
	httpMetrics.AddIntegrityFaults("party", 1)
	httpScrape := httptest.NewRecorder()
	httpMetrics.Handler().ServeHTTP(httpScrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	registry := prometheus.NewRegistry()
	workerMetrics := jobmetrics.NewMetrics(registry)
	workerMetrics.AddFaults("ledger", 1)
	workerScrape := httptest.NewRecorder()
	promhttp.HandlerFor(registry, promhttp.HandlerOpts{}).
		ServeHTTP(workerScrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	emitted := httpScrape.Body.String() + workerScrape.Body.String()
	for _, name := range names {
		if !strings.Contains(emitted, name+"{") {
			t.Fatalf("alert watches %s but no binary emits it", name)
		}
	}
}
