package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"risk-desk/pkg/config"
	exspot "risk-desk/pkg/exchanges/binance/spot"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

// Usage: health_check [--json] [series-key ...]
// Series keys ("binanceusdm:BTCUSDT:15") are checked against the gRPC
// health service.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("risk-desk health check")
	fmt.Println("======================")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	asJSON := false
	var keys []string
	for _, arg := range os.Args[1:] {
		if arg == "--json" {
			asJSON = true
			continue
		}
		keys = append(keys, arg)
	}

	report := HealthReport{Overall: "HEALTHY"}
	report.Services = append(report.Services, checkConfig(cfg))
	report.Services = append(report.Services, checkBinance(ctx, cfg))
	report.Services = append(report.Services, checkAPIServer(ctx, cfg))
	report.Services = append(report.Services, checkGRPC(ctx, cfg, keys)...)

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println()
	for _, svc := range report.Services {
		statusIcon := "✓"
		if svc.Status == "UNHEALTHY" {
			statusIcon = "✗"
		} else if svc.Status == "DEGRADED" {
			statusIcon = "⚠"
		}
		fmt.Printf("%s %-28s %s %s\n", statusIcon, svc.Service, svc.Status, svc.Message)
	}
	fmt.Printf("\nOverall Status: %s\n", report.Overall)

	if asJSON {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}
	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: "HEALTHY", Timestamp: time.Now()}
}

func checkConfig(cfg *config.Config) HealthStatus {
	status := newStatus("Configuration")
	if len(cfg.Exchanges) == 0 {
		status.Status = "DEGRADED"
		status.Message = "No exchanges enabled"
		return status
	}
	status.Message = fmt.Sprintf("Port=%s GRPC=%s Exchanges=%v", cfg.Port, cfg.GRPCPort, cfg.Exchanges)
	return status
}

func checkBinance(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Binance API")
	client := exspot.New(exspot.Config{Testnet: cfg.BinanceTestnet}, nil)

	serverTime, err := client.ServerTime(ctx)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	network := "MAINNET"
	if cfg.BinanceTestnet {
		network = "TESTNET"
	}
	status.Message = fmt.Sprintf("Connected to %s (time=%d)", network, serverTime)
	if cfg.BinanceAPIKey == "" {
		status.Status = "DEGRADED"
		status.Message += ", no API key: fees/balance fall back"
	}
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("API Server")
	url := fmt.Sprintf("http://localhost:%s/api/system/status", cfg.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}
	var body struct {
		Version string `json:"version"`
		Series  []struct {
			Key   string `json:"key"`
			Phase string `json:"phase"`
		} `json:"series"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("Bad status body: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("Running v%s, %d series", body.Version, len(body.Series))
	return status
}

func checkGRPC(ctx context.Context, cfg *config.Config, keys []string) []HealthStatus {
	conn, err := grpc.NewClient("localhost:"+cfg.GRPCPort, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		status := newStatus("gRPC health")
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return []HealthStatus{status}
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	out := make([]HealthStatus, 0, len(keys)+1)
	for _, svc := range append([]string{""}, keys...) {
		name := "gRPC health"
		if svc != "" {
			name = "series " + svc
		}
		status := newStatus(name)
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: svc})
		switch {
		case err != nil:
			status.Status = "UNHEALTHY"
			status.Message = err.Error()
		case resp.GetStatus() != healthpb.HealthCheckResponse_SERVING:
			status.Status = "DEGRADED"
			status.Message = resp.GetStatus().String()
		default:
			status.Message = "SERVING"
		}
		out = append(out, status)
	}
	return out
}
