// Package docker implements the container task runtime backend (spec.md
// §4.2), grounded on the real SPEAR spearlet's use of
// github.com/docker/docker/client to inspect an image and attach to a
// container's primary stream.
package docker

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/edgeworks-io/spearlet/internal/logger"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
)

var log = logger.For("runtime.backend.docker")

// StopTimeout bounds the graceful container stop before Docker sends
// SIGKILL itself.
const StopTimeout = 10 * time.Second

// Backend creates container-backed tasks via the Docker Engine API.
type Backend struct {
	cli *client.Client
}

// NewBackend constructs a Docker backend from the ambient Docker
// environment (DOCKER_HOST, DOCKER_CERT_PATH, ...).
func NewBackend() (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker: building client: %w", err)
	}
	return &Backend{cli: cli}, nil
}

// Create verifies the named image exists, creates a container from it, and
// returns a task in Init; the container is not started until Start is
// called (spec.md §4.2).
func (b *Backend) Create(ctx context.Context, cfg task.Config, vars task.VarStore) (*task.Task, error) {
	if _, _, err := b.cli.ImageInspectWithRaw(ctx, cfg.Executable); err != nil {
		return nil, fmt.Errorf("docker: image %q not found: %w", cfg.Executable, err)
	}

	env := make([]string, 0, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	if cfg.HostAddress != "" {
		env = append(env, fmt.Sprintf("SPEAR_HOST_ADDR=%s", cfg.HostAddress))
	}

	containerCfg := &container.Config{
		Image:        cfg.Executable,
		Cmd:          cfg.Args,
		Env:          env,
		WorkingDir:   cfg.WorkDir,
		Tty:          false,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: false,
	}

	created, err := b.cli.ContainerCreate(ctx, containerCfg, &container.HostConfig{AutoRemove: true}, nil, nil, cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("docker: create container: %w", err)
	}

	var t *task.Task
	var attachIn, attachOut atomic.Pointer[attachedConn]

	t = task.New(cfg, &deferredWriter{conn: &attachIn}, &deferredReader{conn: &attachOut},
		vars, func() error { return b.stop(context.Background(), created.ID) })

	t.SetStartFunc(func() error {
		attached, err := b.cli.ContainerAttach(ctx, created.ID, container.AttachOptions{
			Stream: true, Stdin: true, Stdout: true,
		})
		if err != nil {
			return fmt.Errorf("docker: attach: %w", err)
		}
		attachIn.Store(&attachedConn{w: attached.Conn})
		attachOut.Store(&attachedConn{r: attached.Reader})

		if err := b.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
			attached.Close()
			return fmt.Errorf("docker: start container: %w", err)
		}

		go func() {
			statusCh, errCh := b.cli.ContainerWait(context.Background(), created.ID, container.WaitConditionNotRunning)
			select {
			case err := <-errCh:
				t.MarkStopped(err)
			case <-statusCh:
				t.MarkStopped(nil)
			}
		}()
		return nil
	})

	return t, nil
}

func (b *Backend) stop(ctx context.Context, containerID string) error {
	timeout := int(StopTimeout.Seconds())
	if err := b.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		log.Warn("container stop failed", "container_id", containerID, "error", err)
		return err
	}
	return nil
}

// attachedConn holds one half of the real Docker attach stream, set
// atomically once Start resolves it.
type attachedConn struct {
	w io.WriteCloser
	r io.ReadCloser
}

// deferredWriter/deferredReader let task.New receive io.WriteCloser /
// io.ReadCloser handles before the container is actually attached (Create
// must not start I/O); calls block-return an error until Start publishes
// the real connection via the atomic pointer.
type deferredWriter struct {
	conn *atomic.Pointer[attachedConn]
}

func (d *deferredWriter) Write(p []byte) (int, error) {
	c := d.conn.Load()
	if c == nil {
		return 0, fmt.Errorf("docker: task not started yet")
	}
	return c.w.Write(p)
}

func (d *deferredWriter) Close() error {
	c := d.conn.Load()
	if c == nil {
		return nil
	}
	return c.w.Close()
}

type deferredReader struct {
	conn *atomic.Pointer[attachedConn]
}

func (d *deferredReader) Read(p []byte) (int, error) {
	c := d.conn.Load()
	if c == nil {
		return 0, fmt.Errorf("docker: task not started yet")
	}
	return c.r.Read(p)
}

func (d *deferredReader) Close() error {
	c := d.conn.Load()
	if c == nil {
		return nil
	}
	return c.r.Close()
}
