// Docker-backed spawn path: for agents whose config asks for stronger
// isolation than a worktree bind-mount alone gives, the Manager runs the
// CLI inside a throwaway container instead of a host subprocess. This
// covers the single-container, run-to-completion shape a subordinate
// agent needs; no image pulling policy, health checks, or network
// management.
package agentmgr

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// spawnDocker creates a container bind-mounting workDir, starts it,
// streams its combined log output into Agent.Progress, and waits for it
// to exit.
func (m *Manager) spawnDocker(ctx context.Context, agent *Agent, cfg *AgentConfig, argv, env []string, workDir string) {
	if cfg.DockerImage == "" {
		m.failSpawn(agent, fmt.Errorf("docker runtime requires AgentConfig.DockerImage"))
		return
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		m.failSpawn(agent, fmt.Errorf("docker client: %w", err))
		return
	}

	containerCfg := &container.Config{
		Image:      cfg.DockerImage,
		Cmd:        argv,
		Env:        env,
		WorkingDir: workDir,
		Labels:     map[string]string{"agentshell.agent_id": agent.ID},
	}
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:     mount.TypeBind,
			Source:   workDir,
			Target:   workDir,
			ReadOnly: agent.ReadOnly,
		}},
		AutoRemove: true,
	}

	resp, err := cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "agentshell-"+agent.ID[:8])
	if err != nil {
		m.failSpawn(agent, fmt.Errorf("docker create: %w", err))
		return
	}
	containerID := resp.ID

	if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		m.failSpawn(agent, fmt.Errorf("docker start: %w", err))
		return
	}

	rt := &runtime{done: make(chan struct{})}
	rt.stop = func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cancelGraceTimeout)
		defer cancel()
		timeoutSecs := int(cancelGraceTimeout.Seconds())
		_ = cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &timeoutSecs})
	}
	m.mu.Lock()
	m.runtime[agent.ID] = rt
	startedAt := time.Now()
	agent.StartedAt = &startedAt
	agent.Status = StatusRunning
	agent.Progress = append(agent.Progress, fmt.Sprintf("Started container %s (image %s)", containerID[:12], cfg.DockerImage))
	agent.LastActivity = startedAt
	m.mu.Unlock()

	go m.superviseDocker(agent, rt, cli, containerID)
}

func (m *Manager) superviseDocker(agent *Agent, rt *runtime, cli *client.Client, containerID string) {
	ctx := context.Background()

	logs, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err == nil {
		pr, pw := io.Pipe()
		go func() {
			_, _ = stdcopy.StdCopy(pw, pw, logs)
			_ = pw.Close()
		}()
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), maxProgressLineBytes+1024)
		for scanner.Scan() {
			line := scanner.Text()
			if len(line) > maxProgressLineBytes {
				line = truncateAtBoundary(line, maxProgressLineBytes)
			}
			m.mu.Lock()
			agent.Progress = append(agent.Progress, line)
			agent.LastActivity = time.Now()
			m.mu.Unlock()
		}
		_ = logs.Close()
	}

	statusCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var waitErr error
	select {
	case err := <-errCh:
		waitErr = err
	case st := <-statusCh:
		if st.StatusCode != 0 {
			waitErr = fmt.Errorf("docker: container exited with status %d", st.StatusCode)
		}
	}
	close(rt.done)

	m.mu.Lock()
	cancelled := rt.cancelled
	m.mu.Unlock()

	m.finish(agent, waitErr, cancelled)
	m.releaseSlot()
}
