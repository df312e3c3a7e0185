// Command spearlet runs one node's agent-workload control-plane daemon: it
// registers with SMS, polls for task descriptors, fetches and verifies the
// named executables, starts them under the appropriate runtime backend, and
// relays the host<->guest protocol for their lifetime.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edgeworks-io/spearlet/internal/admin"
	"github.com/edgeworks-io/spearlet/internal/artifact"
	"github.com/edgeworks-io/spearlet/internal/comm"
	"github.com/edgeworks-io/spearlet/internal/config"
	"github.com/edgeworks-io/spearlet/internal/control"
	"github.com/edgeworks-io/spearlet/internal/fd"
	"github.com/edgeworks-io/spearlet/internal/hostcall"
	"github.com/edgeworks-io/spearlet/internal/hostcall/builtin"
	"github.com/edgeworks-io/spearlet/internal/logger"
	"github.com/edgeworks-io/spearlet/internal/runtime"
	"github.com/edgeworks-io/spearlet/internal/runtime/backend/docker"
	"github.com/edgeworks-io/spearlet/internal/runtime/backend/process"
	"github.com/edgeworks-io/spearlet/internal/runtime/task"
	"github.com/edgeworks-io/spearlet/internal/stream"
	"github.com/edgeworks-io/spearlet/internal/varstore"
	"github.com/redis/go-redis/v9"
)

var log = logger.For("cmd.spearlet")

func main() {
	configPath := flag.String("config", "", "path to spearlet.yaml; defaults baked in if empty")
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	logger.Configure(logger.Format(cfg.Logging.Format), cfg.Logging.DefaultLevel, cfg.Logging.Modules)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Error("spearlet exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	registry := runtime.NewRegistry()
	manager := comm.NewManager(cfg.Transport.OutboundQueueCapacity, cfg.Transport.ResponseTimeout)

	var redisClient *redis.Client
	if cfg.VarStore.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.VarStore.RedisAddr, DB: cfg.VarStore.RedisDB})
		defer redisClient.Close()
	}

	classes := stream.NewClassRegistry()
	if err := classes.Register(&stream.Class{Name: "io"}); err != nil {
		return fmt.Errorf("cmd/spearlet: registering stream class: %w", err)
	}

	manager.SetStreamRouter(func(t *task.Task, payload []byte) {
		if mux, ok := t.StreamTable().(*stream.Multiplexer); ok && mux != nil {
			mux.HandleInbound(payload)
		}
	})

	// FD/stream teardown cascades from a single per-task finish hook;
	// startTask attaches a fresh table and multiplexer to every task it
	// creates, so the registry never needs to know their concrete types
	// (spec.md §4.3).
	registry.OnTaskFinish(func(t *task.Task) {
		if table, ok := t.FDTable().(*fd.Table); ok && table != nil {
			table.TeardownAll(func(fdNum int32, err error) {
				log.Warn("fd teardown failed", "task_id", t.Config.ID, "fd", fdNum, "error", err)
			})
		}
		if mux, ok := t.StreamTable().(*stream.Multiplexer); ok && mux != nil {
			mux.TeardownAll()
		}
		admin.RecordTaskLifecycle("stopped")
	})

	hreg := hostcall.NewRegistry()
	vstore := builtin.NewVectorStore()
	tools := builtin.NewToolRegistry()
	if err := builtin.RegisterAll(hreg, vstore, tools); err != nil {
		return fmt.Errorf("cmd/spearlet: registering built-in hostcalls: %w", err)
	}

	dispatcher := hostcall.NewDispatcher(hreg, manager)
	go dispatcher.Run(ctx)

	processBackend := process.NewBackend(cfg.Runtime.SearchPath)
	var dockerBackend *docker.Backend
	if supports(cfg.Runtime.SupportedTaskTypes, "docker") {
		b, err := docker.NewBackend()
		if err != nil {
			log.Warn("docker backend unavailable, docker task descriptors will be skipped", "error", err)
		} else {
			dockerBackend = b
		}
	}

	fetcher := artifact.Router{File: artifact.FileFetcher{}}
	if s3f, err := artifact.NewS3Fetcher(ctx); err == nil {
		fetcher.S3 = s3f
	}
	fetcher.Azure = artifact.NewAzureFetcher()

	exporter := admin.NewExporter(cfg.Node.AdminListenAddr, func() error { return nil })
	go func() {
		if err := exporter.Start(); err != nil {
			log.Error("admin exporter stopped", "error", err)
		}
	}()

	var ctrl *control.Client
	if cfg.Node.SMSGRPCAddr != "" {
		c, err := control.NewClient(cfg.Node.SMSGRPCAddr, cfg.Node.UUID, control.WithAuthToken(os.Getenv("SPEAR_SMS_TOKEN")))
		if err != nil {
			return fmt.Errorf("cmd/spearlet: building control client: %w", err)
		}
		ctrl = c
		defer ctrl.Close()

		if err := ctrl.Register(ctx, control.NodeRecord{
			UUID: cfg.Node.UUID,
			Name: cfg.Node.Name,
			IP:   cfg.Node.ListenAddr,
			Port: cfg.Node.ListenPort,
		}); err != nil {
			return fmt.Errorf("cmd/spearlet: registering with sms: %w", err)
		}

		go func() {
			if err := ctrl.RunHeartbeatLoop(ctx, cfg.Node.HeartbeatInterval, func() map[string]float64 {
				return map[string]float64{"tasks_active": float64(len(registry.List()))}
			}); err != nil {
				log.Info("heartbeat loop stopped", "error", err)
			}
		}()

		registry.OnTaskFinish(func(t *task.Task) {
			status := "stopped"
			if exitErr := t.ExitError(); exitErr != nil {
				status = "failed"
			}
			if err := ctrl.ReportStatus(context.Background(), t.Config.ID, status, ""); err != nil {
				log.Warn("status report failed", "task_id", t.Config.ID, "error", err)
			}
		})

		go pollLoop(ctx, cfg, ctrl, registry, manager, classes, fetcher, processBackend, dockerBackend, vstore, redisClient)
	}

	<-ctx.Done()
	log.Info("shutting down")
	registry.Shutdown()
	dispatcher.Wait()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return exporter.Shutdown(shutdownCtx)
}

func supports(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

// pollLoop periodically fetches task descriptors from SMS and starts any
// new ones, fetching and verifying their executable bytes first (spec.md
// §6.3(b)).
func pollLoop(
	ctx context.Context,
	cfg config.Config,
	ctrl *control.Client,
	registry *runtime.Registry,
	manager *comm.Manager,
	classes *stream.ClassRegistry,
	fetcher artifact.Router,
	processBackend *process.Backend,
	dockerBackend *docker.Backend,
	vstore *builtin.VectorStore,
	redisClient *redis.Client,
) {
	interval := cfg.Node.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		descriptors, err := ctrl.PollTaskDescriptors(ctx)
		if err != nil {
			log.Warn("polling task descriptors failed", "error", err)
			continue
		}

		for _, d := range descriptors {
			if _, exists := registry.Get(d.TaskID); exists {
				continue
			}
			if err := startTask(ctx, cfg, d, registry, manager, classes, fetcher, processBackend, dockerBackend, vstore, redisClient); err != nil {
				log.Error("starting task failed", "task_id", d.TaskID, "error", err)
			}
		}
	}
}

func startTask(
	ctx context.Context,
	cfg config.Config,
	d control.TaskDescriptor,
	registry *runtime.Registry,
	manager *comm.Manager,
	classes *stream.ClassRegistry,
	fetcher artifact.Router,
	processBackend *process.Backend,
	dockerBackend *docker.Backend,
	vstore *builtin.VectorStore,
	redisClient *redis.Client,
) error {
	taskCfg := task.Config{
		ID:          d.TaskID,
		Name:        d.Name,
		Args:        d.Args,
		Env:         d.Env,
		HostAddress: fmt.Sprintf("%s:%d", cfg.Node.ListenAddr, cfg.Node.ListenPort),
	}

	var vars task.VarStore
	if redisClient != nil {
		opts := []varstore.RedisOption{varstore.WithPrefix(cfg.VarStore.Prefix)}
		if cfg.VarStore.TTL > 0 {
			opts = append(opts, varstore.WithTTL(cfg.VarStore.TTL))
		}
		vars = varstore.NewRedisStore(redisClient, d.TaskID, opts...)
	} else {
		vars = varstore.NewMemoryStore()
	}

	var t *task.Task
	switch d.ExecutableType {
	case "process":
		uri := d.ExecutableURI
		if uri == "" {
			uri = d.ExecutableName
		}
		bin, err := artifact.FetchAndVerify(ctx, fetcher, uri, d.Checksum)
		if err != nil {
			return err
		}
		path, err := stageExecutable(bin, d.Name)
		if err != nil {
			return err
		}
		taskCfg.Kind = task.KindProcess
		taskCfg.Executable = path
		t, err = processBackend.Create(taskCfg, vars)
		if err != nil {
			return err
		}
	case "docker":
		if dockerBackend == nil {
			return fmt.Errorf("cmd/spearlet: no docker backend available for task %d", d.TaskID)
		}
		taskCfg.Kind = task.KindDocker
		taskCfg.Executable = d.ExecutableName
		created, err := dockerBackend.Create(ctx, taskCfg, vars)
		if err != nil {
			return err
		}
		t = created
	default:
		return fmt.Errorf("cmd/spearlet: unsupported executable type %q for task %d", d.ExecutableType, d.TaskID)
	}

	t.SetFDTable(fd.NewTable(d.TaskID))
	t.SetStreamTable(stream.NewMultiplexer(t, manager, classes))

	if err := registry.Register(t); err != nil {
		return err
	}
	manager.InstallToTask(t)

	if err := t.Start(); err != nil {
		return err
	}
	admin.RecordTaskLifecycle("created")
	return nil
}

// stageExecutable writes fetched executable bytes to a task-local
// temporary file so the process backend can exec it; Docker tasks don't
// need this since the image already carries its own entrypoint.
func stageExecutable(bin []byte, name string) (string, error) {
	f, err := os.CreateTemp("", "spearlet-"+name+"-*")
	if err != nil {
		return "", fmt.Errorf("cmd/spearlet: staging executable: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(bin); err != nil {
		return "", fmt.Errorf("cmd/spearlet: writing staged executable: %w", err)
	}
	if err := f.Chmod(0o755); err != nil {
		return "", fmt.Errorf("cmd/spearlet: chmod staged executable: %w", err)
	}
	return f.Name(), nil
}
