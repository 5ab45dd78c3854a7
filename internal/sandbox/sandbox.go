// Package sandbox runs commands inside ephemeral Docker containers and
// launches long-lived service containers (the headless-browser session),
// porting the original implementation's ContainerManager.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	bridge "github.com/StarfleetAI/bridge-common"
)

// ContainerWorkdir is the path a bind-mounted workdir is attached at
// inside every sandbox container.
const ContainerWorkdir = "/bridge"

const (
	portPollAttempts = 30
	portPollInterval = 500 * time.Millisecond
)

// Mount binds a host directory to ContainerWorkdir inside the container.
type Mount struct {
	HostPath string
}

// Runner owns a single Docker client connection and runs commands in
// ephemeral, auto-removing containers on behalf of RunScript, or launches
// long-lived service containers via LaunchService.
type Runner struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewRunner connects to the local Docker daemon using the environment's
// standard DOCKER_HOST/DOCKER_CERT_PATH conventions.
func NewRunner(logger *slog.Logger) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &bridge.ErrSandbox{Kind: "StartFailed", Err: err}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runner{cli: cli, logger: logger}, nil
}

// RunScript pulls the image if needed, starts an auto-remove container,
// execs cmd with the optional mount bound at ContainerWorkdir, drains
// combined stdout+stderr until exit, and removes the container. It
// returns the trimmed output.
func (r *Runner) RunScript(ctx context.Context, imageRef string, cmd []string, mounts []Mount, workdir string) (string, error) {
	if err := r.pullImage(ctx, imageRef); err != nil {
		return "", err
	}

	var binds []string
	for _, m := range mounts {
		binds = append(binds, fmt.Sprintf("%s:%s", m.HostPath, ContainerWorkdir))
	}

	created, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image: imageRef,
		Tty:   true,
	}, &container.HostConfig{
		Binds:      binds,
		AutoRemove: true,
	}, nil, nil, "")
	if err != nil {
		return "", &bridge.ErrSandbox{Kind: "StartFailed", Err: err}
	}
	id := created.ID

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return "", &bridge.ErrSandbox{Kind: "StartFailed", Err: err}
	}

	execWorkdir := ""
	if len(binds) > 0 {
		execWorkdir = ContainerWorkdir
	}

	out, err := r.execAndCollect(ctx, id, cmd, execWorkdir)
	// Best-effort removal even on exec failure; AutoRemove handles the
	// normal-exit path but a failed exec can leave the container running.
	_ = r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err != nil {
		return "", &bridge.ErrSandbox{Kind: "ExecFailed", Err: err}
	}

	r.logger.Debug("sandbox script finished", "image", imageRef, "output_len", len(out))
	return out, nil
}

func (r *Runner) execAndCollect(ctx context.Context, containerID string, cmd []string, workdir string) (string, error) {
	exec, err := r.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		WorkingDir:   workdir,
	})
	if err != nil {
		return "", err
	}

	attach, err := r.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", err
	}
	defer attach.Close()

	var out, errOut bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &errOut, attach.Reader); err != nil && err != io.EOF {
		return "", err
	}

	combined := out.String() + errOut.String()
	return strings.TrimSpace(combined), nil
}

func (r *Runner) pullImage(ctx context.Context, imageRef string) error {
	rc, err := r.cli.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return &bridge.ErrSandbox{Kind: "ImagePullFailed", Err: err}
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return &bridge.ErrSandbox{Kind: "ImagePullFailed", Err: err}
	}
	return nil
}

// ServiceHandle identifies a long-lived container started by LaunchService
// and the host ports its exposed container ports were bound to.
type ServiceHandle struct {
	ContainerID string
	hostPorts   map[string]string // containerPort (e.g. "9515/tcp") -> host port
}

// HostPortFor returns the host port bound to containerPort, if any.
func (h *ServiceHandle) HostPortFor(containerPort string) (string, bool) {
	p, ok := h.hostPorts[containerPort]
	return p, ok
}

// LaunchService starts a long-lived container exposing the given
// container ports (e.g. []string{"9515/tcp"}; Docker picks each host
// port), then polls ContainerInspect until every requested port is bound.
func (r *Runner) LaunchService(ctx context.Context, imageRef string, ports []string) (*ServiceHandle, error) {
	if err := r.pullImage(ctx, imageRef); err != nil {
		return nil, err
	}

	bindings := make(nat.PortMap, len(ports))
	exposed := make(nat.PortSet, len(ports))
	for _, p := range ports {
		natPort, err := nat.NewPort(portProto(p), portNumber(p))
		if err != nil {
			return nil, &bridge.ErrSandbox{Kind: "StartFailed", Err: err}
		}
		exposed[natPort] = struct{}{}
		bindings[natPort] = []nat.PortBinding{{HostIP: "", HostPort: ""}}
	}

	created, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:        imageRef,
		Tty:          true,
		ExposedPorts: exposed,
	}, &container.HostConfig{
		AutoRemove:   true,
		PortBindings: bindings,
	}, nil, nil, "")
	if err != nil {
		return nil, &bridge.ErrSandbox{Kind: "StartFailed", Err: err}
	}
	id := created.ID

	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, &bridge.ErrSandbox{Kind: "StartFailed", Err: err}
	}

	hostPorts, err := r.pollForPorts(ctx, id, ports)
	if err != nil {
		_ = r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
		return nil, err
	}

	return &ServiceHandle{ContainerID: id, hostPorts: hostPorts}, nil
}

func (r *Runner) pollForPorts(ctx context.Context, containerID string, ports []string) (map[string]string, error) {
	for attempt := 0; attempt < portPollAttempts; attempt++ {
		info, err := r.cli.ContainerInspect(ctx, containerID)
		if err == nil {
			hostPorts := make(map[string]string, len(ports))
			for _, p := range ports {
				natPort, perr := nat.NewPort(portProto(p), portNumber(p))
				if perr != nil {
					continue
				}
				bindings, ok := info.NetworkSettings.Ports[natPort]
				if ok && len(bindings) > 0 && bindings[0].HostPort != "" {
					hostPorts[p] = bindings[0].HostPort
				}
			}
			if len(hostPorts) == len(ports) {
				return hostPorts, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(portPollInterval):
		}
	}
	return nil, &bridge.ErrSandboxPortTimeout{Image: "", Port: fmt.Sprint(ports)}
}

// Kill force-removes a container started by LaunchService. Best-effort: an
// already-gone container is not an error.
func (r *Runner) Kill(ctx context.Context, h *ServiceHandle) error {
	if h == nil {
		return nil
	}
	if err := r.cli.ContainerRemove(ctx, h.ContainerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return &bridge.ErrSandbox{Kind: "ExecFailed", Err: err}
	}
	return nil
}

// Registry tracks active sandbox operations so a shutting-down executor
// can tear down every in-flight container. Each registered operation owns
// a cancel func; KillAll cancels every outstanding context, which in turn
// propagates to the blocking Docker calls and their callers.
type Registry struct {
	mu   sync.Mutex
	ops  map[string]context.CancelFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]context.CancelFunc)}
}

// Register associates an operation id with its cancellation func. The
// caller must call Unregister once the operation completes.
func (reg *Registry) Register(opID string, cancel context.CancelFunc) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.ops[opID] = cancel
}

// Unregister removes a completed operation from tracking.
func (reg *Registry) Unregister(opID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.ops, opID)
}

// KillAll cancels every currently-registered operation.
func (reg *Registry) KillAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, cancel := range reg.ops {
		cancel()
		delete(reg.ops, id)
	}
}

func portProto(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return "tcp"
}

func portNumber(p string) string {
	for i, c := range p {
		if c == '/' {
			return p[:i]
		}
	}
	return p
}

