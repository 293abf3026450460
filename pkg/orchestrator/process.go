package orchestrator

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/agentmesh/agentmesh/pkg/logger"
	"github.com/agentmesh/agentmesh/pkg/types"
)

// worker is one spawned process bound to a port.
type worker struct {
	agentID string
	port    int
	cmd     *exec.Cmd
	logFile *os.File
	exited  chan struct{}
}

// spawn launches the worker process in its own process group with
// stdout/stderr attached to a per-agent log file.
func (o *Orchestrator) spawn(agent *types.Agent, artifactPath, workDir string, port int) (*worker, error) {
	argv := o.opts.WorkerCommand
	if len(argv) == 0 {
		argv = []string{artifactPath}
	} else {
		expanded := make([]string, len(argv))
		for i, a := range argv {
			expanded[i] = strings.ReplaceAll(a, "{artifact}", artifactPath)
		}
		argv = expanded
	}

	logFile, err := os.OpenFile(filepath.Join(workDir, "worker.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Env = workerEnv(agent, port)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// Own process group so terminate can signal workers and their children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, err
	}

	w := &worker{
		agentID: agent.ID,
		port:    port,
		cmd:     cmd,
		logFile: logFile,
		exited:  make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		close(w.exited)
		logFile.Close()
	}()

	return w, nil
}

// terminate sends SIGTERM to the process group and force-kills after the
// drain deadline.
func (w *worker) terminate(drain time.Duration) {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}

	// Negative pid signals the whole group.
	if err := syscall.Kill(-w.cmd.Process.Pid, syscall.SIGTERM); err != nil {
		logger.GetLogger().Debug("terminate signal failed", "agent", w.agentID, "error", err)
	}

	select {
	case <-w.exited:
		return
	case <-time.After(drain):
	}

	w.kill(0)
}

// kill force-terminates the process group immediately.
func (w *worker) kill(grace time.Duration) {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	if grace > 0 {
		select {
		case <-w.exited:
			return
		case <-time.After(grace):
		}
	}
	_ = syscall.Kill(-w.cmd.Process.Pid, syscall.SIGKILL)
	<-w.exited
}
