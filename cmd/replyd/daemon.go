package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kalambet/replyd/internal/config"
	"github.com/kalambet/replyd/internal/engine"
	"github.com/kalambet/replyd/internal/ollama"
	"github.com/kalambet/replyd/internal/operator"
)

// pidFile records the PID of the foreground server for `replyd stop`.
type pidFile string

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (p pidFile) read() (int, error) {
	raw, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

func (p pidFile) remove() { os.Remove(string(p)) }

// checkHealth reports whether a replyd server answers on port, and the
// status code it answered with.
func checkHealth(port int) (bool, int) {
	hc := &http.Client{Timeout: 2 * time.Second}
	resp, err := hc.Get("http://127.0.0.1:" + strconv.Itoa(port) + "/health")
	if err != nil {
		return false, 0
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, resp.StatusCode
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pid := pidFile(filepath.Join(cfg.Storage.DataDir, "replyd.pid"))
	n, err := pid.read()
	if err != nil {
		return fmt.Errorf("replyd is not running (no PID file at %s)", pid)
	}
	proc, err := os.FindProcess(n)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", n, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Stale file from a crashed server.
		pid.remove()
		return fmt.Errorf("stopping replyd (PID %d): %w", n, err)
	}
	printSuccess("Sent stop signal to replyd (PID %d)", n)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	up, code := checkHealth(cfg.Server.Port)
	switch {
	case up:
		printStatus("Server", "running on port %d", cfg.Server.Port)
	case code != 0:
		printStatus("Server", "error (HTTP %d)", code)
	default:
		printStatus("Server", "stopped")
	}

	printStatus("Engine", "%s (%s)", cfg.Engine.Provider, cfg.Engine.Model)
	if cfg.Engine.Provider == engine.ProviderOllama {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		v, err := ollama.New(cfg.Ollama.BaseURL).Version(ctx)
		cancel()
		if err != nil {
			printStatus("Ollama", "not running")
		} else {
			printStatus("Ollama", "%s running at %s", v, cfg.Ollama.BaseURL)
		}
	}

	if up {
		if client, err := newAPIClient(); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			var st operator.Stats
			if err := client.call(ctx, http.MethodGet, "/stats", nil, &st); err == nil {
				printStats(os.Stderr, st)
			}
			cancel()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printStats(w io.Writer, st operator.Stats) {
	owner := "away"
	if st.OwnerActive {
		owner = "active"
	}
	rows := [][2]string{
		{"Owner", owner},
		{"Pending replies", strconv.Itoa(st.Replies["pending"])},
		{"Posted replies", strconv.Itoa(st.Replies["posted"])},
		{"Comment errors", strconv.Itoa(st.Comments["error"])},
		{"Escalations queued", strconv.Itoa(st.Escalations["pending"])},
	}
	for _, p := range st.Platforms {
		state := "ok"
		switch {
		case p.DisabledUntil != nil && p.DisabledUntil.After(time.Now()):
			state = "disabled until " + p.DisabledUntil.Local().Format(time.Kitchen)
		case p.ConsecutiveErrors > 0:
			state = fmt.Sprintf("%d consecutive errors", p.ConsecutiveErrors)
		}
		rows = append(rows, [2]string{"  " + string(p.Platform), state})
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s %s\n", paint(bold, r[0]+":"), r[1])
	}
}
