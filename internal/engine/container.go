package engine

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"go.uber.org/zap"
)

const (
	DefaultImage  = "alpine:3.20"
	moduleDir     = "/mod"
	dependencyDir = "/deps"
	installScript = "apk add --no-cache curl docker-cli && curl -fsSL https://dl.dagger.io/dagger/install.sh | BIN_DIR=/usr/local/bin sh"
)

// ContainerEngine tests workspaces by initializing a real module with the
// dagger CLI inside a throwaway container. Nested engines need the host
// docker socket, so containers run privileged with it bind-mounted.
type ContainerEngine struct {
	Image      string
	DockerHost string
	// References overrides the built-in SDK snippet catalog.
	References fs.FS
	Logger     *zap.Logger
}

func (e *ContainerEngine) CreateWorkspace(_ context.Context, spec Spec) (Workspace, error) {
	f, err := scaffold(spec, e.References)
	if err != nil {
		return nil, err
	}
	return &containerWorkspace{files: f, engine: e}, nil
}

func (e *ContainerEngine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

type containerWorkspace struct {
	files
	engine *ContainerEngine
}

func (w *containerWorkspace) WithFile(path, content string) (Workspace, error) {
	f, err := w.files.with(path, content)
	if err != nil {
		return nil, err
	}
	return &containerWorkspace{files: f, engine: w.engine}, nil
}

// Test runs `dagger functions` against the module. Infrastructure failures
// are returned as errors; a module that does not load yields its output.
func (w *containerWorkspace) Test(ctx context.Context) (string, error) {
	if err := w.consume(); err != nil {
		return "", err
	}
	log := w.engine.logger().With(zap.String("language", w.spec.Language), zap.String("module", w.spec.ModuleName))

	ctr, err := w.start(ctx)
	if err != nil {
		return "", fmt.Errorf("engine: start container: %w", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			log.Warn("terminate container", zap.Error(err))
		}
	}()

	if code, out, err := run(ctx, ctr, "/", "sh", "-c", installScript); err != nil || code != 0 {
		return "", fmt.Errorf("engine: install dagger (exit %d): %v %s", code, err, out)
	}
	init := []string{"dagger", "init", "--name", w.spec.ModuleName, "--sdk", w.spec.Language}
	if code, out, err := run(ctx, ctr, moduleDir, init...); err != nil || code != 0 {
		return "", fmt.Errorf("engine: dagger init (exit %d): %v %s", code, err, out)
	}

	for _, dep := range w.spec.Dependencies {
		root := path.Join(dependencyDir, dep.Name)
		if err := dep.Source.Each(func(p string, content []byte) error {
			return ctr.CopyToContainer(ctx, content, path.Join(root, p), 0o644)
		}); err != nil {
			return "", fmt.Errorf("engine: copy dependency %s: %w", dep.Name, err)
		}
		code, out, err := run(ctx, ctr, moduleDir, "dagger", "install", root)
		if err != nil {
			return "", fmt.Errorf("engine: dagger install %s: %w", dep.Name, err)
		}
		if code != 0 {
			return out, nil
		}
	}

	if err := w.tree.Each(func(p string, content []byte) error {
		return ctr.CopyToContainer(ctx, content, path.Join(moduleDir, p), 0o644)
	}); err != nil {
		return "", fmt.Errorf("engine: copy module files: %w", err)
	}

	code, out, err := run(ctx, ctr, moduleDir, "dagger", "functions")
	if err != nil {
		return "", fmt.Errorf("engine: dagger functions: %w", err)
	}
	log.Debug("dagger functions", zap.Int("exit", code), zap.Int("bytes", len(out)))
	if code != 0 {
		return out, nil
	}
	return Sentinel, nil
}

func (w *containerWorkspace) start(ctx context.Context) (testcontainers.Container, error) {
	image := w.engine.Image
	if image == "" {
		image = DefaultImage
	}
	version := w.spec.EngineVersion
	if version == "" {
		version = "latest"
	}
	socket := w.engine.DockerHost
	if socket == "" {
		socket = "/var/run/docker.sock"
	}
	req := testcontainers.ContainerRequest{
		Image:      image,
		Entrypoint: []string{"sleep", "infinity"},
		Env:        map[string]string{"DAGGER_VERSION": version},
		HostConfigModifier: func(hc *container.HostConfig) {
			hc.Privileged = true
			hc.Binds = append(hc.Binds, socket+":/var/run/docker.sock")
		},
	}
	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
}

func run(ctx context.Context, ctr testcontainers.Container, dir string, cmd ...string) (int, string, error) {
	code, reader, err := ctr.Exec(ctx, cmd, tcexec.Multiplexed(), tcexec.WithWorkingDir(dir))
	if err != nil {
		return code, "", err
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return code, "", err
	}
	return code, strings.TrimSpace(string(raw)), nil
}
